package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/model"
)

// LogStore persists the ordered log entries and issued tree heads.
type LogStore struct {
	db DBTX
}

func NewLogStore(db DBTX) *LogStore {
	return &LogStore{db: db}
}

// InsertEntry appends an entry row at its assigned leaf index.
func (s *LogStore) InsertEntry(ctx context.Context, e *model.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_entries (leaf_index, entry_hash, manifest_hash, author_hash, tests_hash, server_hash, appended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.LeafIndex, e.Hash(), e.ManifestHash, e.AuthorHash, e.TestsHash, e.ServerHash, e.AppendedAt,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// Entries loads all entries in leaf order.
func (s *LogStore) Entries(ctx context.Context) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT leaf_index, manifest_hash, author_hash, tests_hash, server_hash, appended_at
		 FROM log_entries ORDER BY leaf_index`)
	if err != nil {
		return nil, fmt.Errorf("load log entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.LeafIndex, &e.ManifestHash, &e.AuthorHash, &e.TestsHash, &e.ServerHash, &e.AppendedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return out, nil
}

// EntryByManifest finds the entry covering a manifest.
func (s *LogStore) EntryByManifest(ctx context.Context, manifestHash string) (*model.LogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT leaf_index, manifest_hash, author_hash, tests_hash, server_hash, appended_at
		 FROM log_entries WHERE manifest_hash = ?`, manifestHash)
	var e model.LogEntry
	err := row.Scan(&e.LeafIndex, &e.ManifestHash, &e.AuthorHash, &e.TestsHash, &e.ServerHash, &e.AppendedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("log entry for manifest %s: %w", manifestHash, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("scan log entry: %w", err)
	}
	return &e, nil
}

// InsertTreeHead stores an issued STH. At most one STH is kept per tree
// size; re-issuing at the same size is a no-op returning the stored head.
func (s *LogStore) InsertTreeHead(ctx context.Context, sth *model.STH) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tree_heads (tree_size, root_hash, timestamp, signature, key_id) VALUES (?, ?, ?, ?, ?)`,
		int64(sth.TreeSize), sth.RootHash, sth.Timestamp, sth.Signature, sth.KeyID,
	)
	if err != nil {
		return fmt.Errorf("insert tree head: %w", err)
	}
	return nil
}

// TreeHeadBySize fetches the STH issued at a given size, if any.
func (s *LogStore) TreeHeadBySize(ctx context.Context, treeSize uint64) (*model.STH, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tree_size, root_hash, timestamp, signature, key_id FROM tree_heads WHERE tree_size = ?`,
		int64(treeSize))
	var (
		size int64
		sth  model.STH
	)
	err := row.Scan(&size, &sth.RootHash, &sth.Timestamp, &sth.Signature, &sth.KeyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tree head at size %d: %w", treeSize, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("scan tree head: %w", err)
	}
	sth.TreeSize = uint64(size)
	return &sth, nil
}
