// Package store persists Silexium state in SQLite: role keys, attestations,
// manifests, log entries and issued tree heads.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every store can run
// inside the ingest transaction or standalone.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS keys (
	role       TEXT NOT NULL,
	key_id     TEXT NOT NULL,
	public_key BLOB NOT NULL,
	not_before TEXT NOT NULL,
	not_after  TEXT NOT NULL,
	PRIMARY KEY (role, key_id)
);

CREATE TABLE IF NOT EXISTS attestations (
	attestation_hash TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	key_id           TEXT NOT NULL,
	payload_hash     TEXT NOT NULL,
	payload_bytes    BLOB NOT NULL,
	signature        TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	tsa_proof        BLOB NOT NULL,
	ots_proof        BLOB NOT NULL,
	manifest_hash    TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS attestations_role_manifest ON attestations(kind, manifest_hash);
CREATE INDEX IF NOT EXISTS attestations_payload ON attestations(payload_hash);

CREATE TABLE IF NOT EXISTS manifests (
	manifest_hash TEXT PRIMARY KEY,
	package       TEXT NOT NULL,
	version       TEXT NOT NULL,
	channel       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	bytes         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS manifests_package_channel ON manifests(package, channel);

CREATE TABLE IF NOT EXISTS log_entries (
	leaf_index    INTEGER PRIMARY KEY,
	entry_hash    TEXT NOT NULL UNIQUE,
	manifest_hash TEXT NOT NULL,
	author_hash   TEXT NOT NULL,
	tests_hash    TEXT NOT NULL,
	server_hash   TEXT NOT NULL,
	appended_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tree_heads (
	tree_size INTEGER PRIMARY KEY,
	root_hash TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	signature TEXT NOT NULL,
	key_id    TEXT NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. Parent directories are created.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a fresh in-memory database for tests.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	// A single connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema.
func Migrate(db *sql.DB) error {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
