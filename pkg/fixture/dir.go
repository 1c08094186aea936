package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/silexium-dev/silexium/pkg/model"
)

// WriteDir lays the release out as an ingestable directory: manifest,
// payloads, mock proofs, public keys, fake artifacts and the release
// description. The directory must be empty or absent.
func (r *Release) WriteDir(dir string) error {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return fmt.Errorf("output directory %s is not empty", dir)
	}
	for _, sub := range []string{"payloads", "tsa", "ots", "keys", "artifacts", "source"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}

	files := map[string][]byte{
		"manifest.json": r.ManifestBytes,
		"SRC":           r.SrcIndex,
		filepath.Join("source", "hello.txt"): []byte("hello\n"),
		filepath.Join("artifacts", fmt.Sprintf("%s-%s-%s", r.Options.Package, r.Options.OS, r.Options.Arch)): r.BinaryBytes,
		filepath.Join("artifacts", r.Options.Package+".uvd"):                                                  r.SourceBytes,
	}
	for _, att := range r.Ingest.Attestations {
		kind := string(att.Kind)
		files[filepath.Join("payloads", kind+".json")] = att.PayloadBytes
		files[filepath.Join("tsa", kind+".tsr")] = att.TSAProof
		files[filepath.Join("ots", kind+".ots")] = att.OTSProof
		files[filepath.Join("keys", kind+".pub")] = r.Signers[att.Kind].PublicKeyBytes()
	}
	files["release.toml"] = []byte(r.renderReleaseTOML())

	for name, contents := range files {
		if err := os.WriteFile(filepath.Join(dir, name), contents, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func (r *Release) renderReleaseTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[release]\n")
	fmt.Fprintf(&b, "package = %q\n", r.Options.Package)
	fmt.Fprintf(&b, "version = %q\n", r.Options.Version)
	fmt.Fprintf(&b, "channel = %q\n", r.Options.Channel)
	fmt.Fprintf(&b, "created_at = %q\n\n", r.Ingest.CreatedAt)
	fmt.Fprintf(&b, "[manifest]\n")
	fmt.Fprintf(&b, "path = %q\n", "manifest.json")
	fmt.Fprintf(&b, "blake3 = %q\n", r.ManifestHash)
	for _, att := range r.Ingest.Attestations {
		kind := string(att.Kind)
		fmt.Fprintf(&b, "\n[[attestations]]\n")
		fmt.Fprintf(&b, "kind = %q\n", kind)
		fmt.Fprintf(&b, "key_id = %q\n", att.KeyID)
		fmt.Fprintf(&b, "payload_path = %q\n", "payloads/"+kind+".json")
		fmt.Fprintf(&b, "signature = %q\n", att.Signature)
		fmt.Fprintf(&b, "created_at = %q\n", att.CreatedAt)
		fmt.Fprintf(&b, "tsa_proof_path = %q\n", "tsa/"+kind+".tsr")
		fmt.Fprintf(&b, "ots_proof_path = %q\n", "ots/"+kind+".ots")
	}
	return b.String()
}

func (r *Release) keyWindow() (string, string) {
	keys := r.Keys()
	return keys[0].NotBefore.UTC().Format("2006-01-02T15:04:05Z07:00"),
		keys[0].NotAfter.UTC().Format("2006-01-02T15:04:05Z07:00")
}

// IngestHint renders the key add and ingest commands that admit this release.
func (r *Release) IngestHint(dir string) string {
	notBefore, notAfter := r.keyWindow()
	var b strings.Builder
	for _, role := range model.Roles {
		fmt.Fprintf(&b, "silexium key add --role %s --key %s --not-before %s --not-after %s\n",
			role, filepath.Join(dir, "keys", string(role)+".pub"), notBefore, notAfter)
	}
	fmt.Fprintf(&b, "SILEXIUM_SKIP_PROOF_VERIFY=1 silexium ingest --file %s\n", filepath.Join(dir, "release.toml"))
	return b.String()
}
