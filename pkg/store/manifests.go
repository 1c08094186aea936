package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// ManifestRow is a stored manifest: its raw canonical bytes plus the columns
// resolve queries on.
type ManifestRow struct {
	ManifestHash string
	Package      string
	Version      string
	Channel      string
	CreatedAt    string
	Bytes        []byte
}

// ManifestStore persists manifests keyed by their canonical hash.
type ManifestStore struct {
	db DBTX
}

func NewManifestStore(db DBTX) *ManifestStore {
	return &ManifestStore{db: db}
}

// Insert stores a manifest row. Re-inserting the same hash fails, since a
// manifest is admitted to the log at most once.
func (s *ManifestStore) Insert(ctx context.Context, row *ManifestRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manifests (manifest_hash, package, version, channel, created_at, bytes) VALUES (?, ?, ?, ?, ?, ?)`,
		row.ManifestHash, row.Package, row.Version, row.Channel, row.CreatedAt, row.Bytes,
	)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

// GetByHash fetches a manifest by hash.
func (s *ManifestStore) GetByHash(ctx context.Context, manifestHash string) (*ManifestRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT manifest_hash, package, version, channel, created_at, bytes FROM manifests WHERE manifest_hash = ?`,
		manifestHash)
	return scanManifest(row)
}

// GetVersion fetches the manifest for an exact (package, version, channel).
func (s *ManifestStore) GetVersion(ctx context.Context, pkg, version, channel string) (*ManifestRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT manifest_hash, package, version, channel, created_at, bytes
		 FROM manifests WHERE package = ? AND version = ? AND channel = ?`,
		pkg, version, channel)
	return scanManifest(row)
}

// ListChannel returns every manifest for (package, channel). The caller
// picks the latest by version ordering.
func (s *ManifestStore) ListChannel(ctx context.Context, pkg, channel string) ([]ManifestRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT manifest_hash, package, version, channel, created_at, bytes
		 FROM manifests WHERE package = ? AND channel = ? ORDER BY created_at`,
		pkg, channel)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ManifestRow
	for rows.Next() {
		var m ManifestRow
		if err := rows.Scan(&m.ManifestHash, &m.Package, &m.Version, &m.Channel, &m.CreatedAt, &m.Bytes); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}
	return out, nil
}

func scanManifest(row *sql.Row) (*ManifestRow, error) {
	var m ManifestRow
	err := row.Scan(&m.ManifestHash, &m.Package, &m.Version, &m.Channel, &m.CreatedAt, &m.Bytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("manifest: %w", errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return &m, nil
}
