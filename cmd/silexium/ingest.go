package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/silexium-dev/silexium/pkg/ingest"
	"github.com/silexium-dev/silexium/pkg/proofs"
	"github.com/silexium-dev/silexium/pkg/store"
	"github.com/silexium-dev/silexium/pkg/translog"
)

func runIngest(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "release description (release.toml)")
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "silexium ingest: --file is required")
		return 2
	}

	logger := newLogger(stderr, cfg.LogLevel)

	rel, err := ingest.LoadRelease(*file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium ingest: %v\n", err)
		return 1
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium ingest: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	// The ingest command never issues tree heads, so no server key is
	// needed; heads are signed lazily by serve.
	log, err := translog.Open(ctx, db, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium ingest: %v\n", err)
		return 1
	}

	pipeline := ingest.NewPipeline(db, log, proofs.FromEnv(), logger)
	entry, err := pipeline.Run(ctx, rel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium ingest: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "ingested %s@%s (%s)\n", rel.Package, rel.Version, rel.Channel)
	_, _ = fmt.Fprintf(stdout, "leaf_index=%d\nentry_hash=%s\n", entry.LeafIndex, entry.Hash())
	return 0
}
