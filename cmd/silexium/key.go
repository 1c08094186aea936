package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/model"
	"github.com/silexium-dev/silexium/pkg/store"
)

func runKey(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "add":
		return runKeyAdd(args[1:], stdout, stderr)
	case "list":
		return runKeyList(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "silexium key: unknown subcommand %q\n", args[0])
		return 2
	}
}

func runKeyAdd(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	fs := flag.NewFlagSet("key add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	role := fs.String("role", "", "key role: author, tests or server")
	keyPath := fs.String("key", "", "public key file (raw 32 bytes or hex)")
	keyID := fs.String("key-id", "", "key identifier (default: hex of the public key)")
	notBefore := fs.String("not-before", "", "validity window start, RFC 3339 (default: now)")
	notAfter := fs.String("not-after", "", "validity window end, RFC 3339")
	expiresAt := fs.String("expires-at", "", "alias for --not-after")
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *notAfter == "" {
		*notAfter = *expiresAt
	}
	if *role == "" || *keyPath == "" || *notAfter == "" {
		_, _ = fmt.Fprintln(stderr, "silexium key add: --role, --key and --expires-at are required")
		return 2
	}
	parsedRole, err := model.ParseRole(*role)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key add: %v\n", err)
		return 2
	}
	publicKey, err := crypto.LoadKeyBytes(*keyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key add: %v\n", err)
		return 1
	}

	nb := time.Now().UTC()
	if *notBefore != "" {
		nb, err = time.Parse(time.RFC3339, *notBefore)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "silexium key add: --not-before: %v\n", err)
			return 2
		}
	}
	na, err := time.Parse(time.RFC3339, *notAfter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key add: --not-after: %v\n", err)
		return 2
	}

	id := *keyID
	if id == "" {
		id = hex.EncodeToString(publicKey)
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key add: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	err = store.NewKeyStore(db).Add(context.Background(), &model.Key{
		Role:      parsedRole,
		KeyID:     id,
		PublicKey: publicKey,
		NotBefore: nb,
		NotAfter:  na,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key add: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "added %s key %s (valid %s .. %s)\n",
		parsedRole, id, nb.Format(time.RFC3339), na.Format(time.RFC3339))
	return 0
}

func runKeyList(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "emit JSON")
	dbPath := fs.String("db", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key list: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	keys, err := store.NewKeyStore(db).List(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "silexium key list: %v\n", err)
		return 1
	}

	if *asJSON {
		type keyOut struct {
			Role      string `json:"role"`
			KeyID     string `json:"key_id"`
			PublicKey string `json:"public_key"`
			NotBefore string `json:"not_before"`
			NotAfter  string `json:"not_after"`
		}
		out := make([]keyOut, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyOut{
				Role:      string(k.Role),
				KeyID:     k.KeyID,
				PublicKey: hex.EncodeToString(k.PublicKey),
				NotBefore: k.NotBefore.Format(time.RFC3339),
				NotAfter:  k.NotAfter.Format(time.RFC3339),
			})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return 0
	}

	for _, k := range keys {
		_, _ = fmt.Fprintf(stdout, "%-7s %s  %s .. %s\n",
			k.Role, k.KeyID, k.NotBefore.Format(time.RFC3339), k.NotAfter.Format(time.RFC3339))
	}
	return 0
}
