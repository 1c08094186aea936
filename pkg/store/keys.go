package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/model"
)

// KeyStore maps (role, key_id) to a public key with its validity window.
// Keys are never deleted, only expired by not_after.
type KeyStore struct {
	db DBTX
}

func NewKeyStore(db DBTX) *KeyStore {
	return &KeyStore{db: db}
}

// Add registers a key. It fails if (role, key_id) already exists.
func (s *KeyStore) Add(ctx context.Context, key *model.Key) error {
	if len(key.PublicKey) != 32 {
		return fmt.Errorf("public key must be 32 bytes, got %d: %w", len(key.PublicKey), errdefs.ErrInvalidRequest)
	}
	if !key.NotBefore.Before(key.NotAfter) {
		return fmt.Errorf("key validity window is empty: %w", errdefs.ErrInvalidRequest)
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keys WHERE role = ? AND key_id = ?`,
		string(key.Role), key.KeyID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check key existence: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("key %s/%s already registered: %w", key.Role, key.KeyID, errdefs.ErrInvalidRequest)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO keys (role, key_id, public_key, not_before, not_after) VALUES (?, ?, ?, ?, ?)`,
		string(key.Role), key.KeyID, key.PublicKey,
		key.NotBefore.UTC().Format(time.RFC3339),
		key.NotAfter.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

// Get fetches a key by (role, key_id).
func (s *KeyStore) Get(ctx context.Context, role model.Role, keyID string) (*model.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT public_key, not_before, not_after FROM keys WHERE role = ? AND key_id = ?`,
		string(role), keyID,
	)
	var (
		publicKey []byte
		notBefore string
		notAfter  string
	)
	if err := row.Scan(&publicKey, &notBefore, &notAfter); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("key %s/%s: %w", role, keyID, errdefs.ErrKeyUnknown)
		}
		return nil, fmt.Errorf("fetch key: %w", err)
	}
	nb, err := time.Parse(time.RFC3339, notBefore)
	if err != nil {
		return nil, fmt.Errorf("stored not_before %q: %w", notBefore, err)
	}
	na, err := time.Parse(time.RFC3339, notAfter)
	if err != nil {
		return nil, fmt.Errorf("stored not_after %q: %w", notAfter, err)
	}
	return &model.Key{
		Role:      role,
		KeyID:     keyID,
		PublicKey: publicKey,
		NotBefore: nb,
		NotAfter:  na,
	}, nil
}

// Verify checks an Ed25519 signature with the key at (role, key_id),
// requiring the key to be valid at the given instant.
func (s *KeyStore) Verify(ctx context.Context, role model.Role, keyID string, message []byte, signatureHex string, at time.Time) error {
	key, err := s.Get(ctx, role, keyID)
	if err != nil {
		return err
	}
	if !key.ValidAt(at) {
		return fmt.Errorf("key %s/%s not valid at %s (window %s .. %s): %w",
			role, keyID, at.UTC().Format(time.RFC3339),
			key.NotBefore.Format(time.RFC3339), key.NotAfter.Format(time.RFC3339),
			errdefs.ErrKeyExpired)
	}
	if err := crypto.Verify(key.PublicKey, message, signatureHex); err != nil {
		return fmt.Errorf("%s attestation by %s: %w", role, keyID, err)
	}
	return nil
}

// List returns all keys ordered by role then key_id.
func (s *KeyStore) List(ctx context.Context) ([]model.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, key_id, public_key, not_before, not_after FROM keys ORDER BY role, key_id`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []model.Key
	for rows.Next() {
		var (
			role      string
			keyID     string
			publicKey []byte
			notBefore string
			notAfter  string
		)
		if err := rows.Scan(&role, &keyID, &publicKey, &notBefore, &notAfter); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		nb, err := time.Parse(time.RFC3339, notBefore)
		if err != nil {
			return nil, fmt.Errorf("stored not_before %q: %w", notBefore, err)
		}
		na, err := time.Parse(time.RFC3339, notAfter)
		if err != nil {
			return nil, fmt.Errorf("stored not_after %q: %w", notAfter, err)
		}
		keys = append(keys, model.Key{
			Role:      model.Role(role),
			KeyID:     keyID,
			PublicKey: publicKey,
			NotBefore: nb,
			NotAfter:  na,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
