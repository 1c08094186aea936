// Command silexium runs the supply-chain transparency log: an HTTP resolve
// service plus key management and release ingestion subcommands.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/silexium-dev/silexium/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the subcommands. Exit codes: 0 success, 1 runtime failure,
// 2 usage error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "key":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "usage: silexium key <add|list> [flags]")
			return 2
		}
		return runKey(args[2:], stdout, stderr)
	case "ingest":
		return runIngest(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "silexium: unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `usage: silexium <command> [flags]

Commands:
  serve    run the resolve API server
  key      manage role keys (add, list)
  ingest   admit a release into the transparency log`)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium: %v\n", err)
		return nil, false
	}
	return cfg, true
}
