package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/silexium-dev/silexium/pkg/api"
	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/resolve"
	"github.com/silexium-dev/silexium/pkg/store"
	"github.com/silexium-dev/silexium/pkg/translog"
)

func runServe(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("host", cfg.Host, "address to bind")
	port := fs.Int("port", cfg.Port, "port to listen on")
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	serverKey := fs.String("server-key", cfg.ServerKeyPath, "server signing key file (raw 32 bytes or hex)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.Host, cfg.Port, cfg.DBPath, cfg.ServerKeyPath = *host, *port, *dbPath, *serverKey

	logger := newLogger(stderr, cfg.LogLevel)

	if cfg.ServerKeyPath == "" {
		_, _ = fmt.Fprintln(stderr, "silexium: server key missing: pass --server-key or set SILEXIUM_SERVER_KEY")
		return 2
	}
	seed, err := crypto.LoadKeyBytes(cfg.ServerKeyPath)
	if err != nil {
		logger.Error("load server key", "error", err)
		return 1
	}
	signer, err := crypto.NewSignerFromSeed(seed, "")
	if err != nil {
		logger.Error("build server signer", "error", err)
		return 1
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := translog.Open(ctx, db, signer)
	if err != nil {
		logger.Error("load transparency log", "error", err)
		return 1
	}
	logger.Info("transparency log loaded", "tree_size", log.Size(), "server_key_id", signer.KeyID)

	svc := resolve.NewService(db, log, logger)
	server := api.NewServer(api.ServerOptions{
		Addr:      cfg.Addr(),
		RateLimit: cfg.RateLimit,
		Burst:     cfg.RateBurst,
	}, api.NewHandler(svc, logger), logger)

	if err := server.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}
