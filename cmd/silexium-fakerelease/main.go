// Command silexium-fakerelease generates a complete fake release fixture:
// manifest, signed three-role attestation chain, mock timestamp proofs, role
// keys and a release.toml ready for silexium ingest.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/silexium-dev/silexium/pkg/fixture"
	"github.com/silexium-dev/silexium/pkg/model"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("silexium-fakerelease", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "output directory (must be empty or absent)")
	pack := fs.String("package", "uvd", "package name")
	version := fs.String("version", "0.0.0", "package version")
	channel := fs.String("channel", "stable", "release channel")
	license := fs.String("license", "MIT", "license identifier")
	osName := fs.String("os", "linux", "binary artifact os")
	arch := fs.String("arch", "x86_64", "binary artifact arch")
	createdAt := fs.String("created-at", "", "release timestamp, RFC 3339 (default: now)")
	seed := fs.String("seed", "", "deterministic key derivation seed (default: created-at)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		_, _ = fmt.Fprintln(stderr, "silexium-fakerelease: --out is required")
		return 2
	}

	opts := fixture.Options{
		Package: *pack,
		Version: *version,
		Channel: *channel,
		License: *license,
		OS:      *osName,
		Arch:    *arch,
		Seed:    *seed,
	}
	if *createdAt != "" {
		t, err := time.Parse(time.RFC3339, *createdAt)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "silexium-fakerelease: --created-at: %v\n", err)
			return 2
		}
		opts.CreatedAt = t
	}

	rel, err := fixture.Build(opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium-fakerelease: %v\n", err)
		return 1
	}
	if err := rel.WriteDir(*out); err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium-fakerelease: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "fake release generated at %s\n", *out)
	_, _ = fmt.Fprintf(stdout, "manifest_hash=%s\n", rel.ManifestHash)
	for _, role := range model.Roles {
		_, _ = fmt.Fprintf(stdout, "%s_key_id=%s\n", role, rel.Signers[role].KeyID)
	}
	_, _ = fmt.Fprintf(stdout, "next:\n%s", rel.IngestHint(*out))
	return 0
}
