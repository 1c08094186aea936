package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/model"
)

// StoredAttestation is an attestation row together with the manifest it
// covers.
type StoredAttestation struct {
	model.Attestation
	ManifestHash string
}

// AttestationStore is the append-only set of accepted attestations, keyed by
// attestation hash with secondary indices on (kind, manifest_hash) and
// payload_hash. Acceptance checks (key validity, signature, chain
// references, external proofs) run in the ingest pipeline before Insert; the
// store itself enforces per-role uniqueness per manifest.
type AttestationStore struct {
	db DBTX
}

func NewAttestationStore(db DBTX) *AttestationStore {
	return &AttestationStore{db: db}
}

// Insert stores an accepted attestation.
func (s *AttestationStore) Insert(ctx context.Context, att *model.Attestation, manifestHash string) error {
	dup, err := s.HasRoleForManifest(ctx, att.Kind, manifestHash)
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("%s already attested manifest %s: %w", att.Kind, manifestHash, errdefs.ErrDuplicateAttestation)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attestations
			(attestation_hash, kind, key_id, payload_hash, payload_bytes, signature, created_at, tsa_proof, ots_proof, manifest_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		att.Hash(), string(att.Kind), att.KeyID, att.PayloadHash, att.PayloadBytes,
		att.Signature, att.CreatedAt, att.TSAProof, att.OTSProof, manifestHash,
	)
	if err != nil {
		return fmt.Errorf("insert attestation: %w", err)
	}
	return nil
}

// GetByHash fetches an attestation by its hash.
func (s *AttestationStore) GetByHash(ctx context.Context, attestationHash string) (*StoredAttestation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, key_id, payload_hash, payload_bytes, signature, created_at, tsa_proof, ots_proof, manifest_hash
		 FROM attestations WHERE attestation_hash = ?`, attestationHash)
	return scanAttestation(row)
}

// HasRoleForManifest reports whether the role already attested the manifest.
func (s *AttestationStore) HasRoleForManifest(ctx context.Context, role model.Role, manifestHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attestations WHERE kind = ? AND manifest_hash = ?`,
		string(role), manifestHash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check role attestation: %w", err)
	}
	return n > 0, nil
}

// ForManifest returns the attestations covering a manifest in chain order
// (author, tests, server).
func (s *AttestationStore) ForManifest(ctx context.Context, manifestHash string) ([]StoredAttestation, error) {
	var out []StoredAttestation
	for _, role := range model.Roles {
		row := s.db.QueryRowContext(ctx,
			`SELECT kind, key_id, payload_hash, payload_bytes, signature, created_at, tsa_proof, ots_proof, manifest_hash
			 FROM attestations WHERE kind = ? AND manifest_hash = ?`,
			string(role), manifestHash)
		att, err := scanAttestation(row)
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				return nil, fmt.Errorf("%s attestation for manifest %s: %w", role, manifestHash, errdefs.ErrNotFound)
			}
			return nil, err
		}
		out = append(out, *att)
	}
	return out, nil
}

func scanAttestation(row *sql.Row) (*StoredAttestation, error) {
	var (
		kind         string
		keyID        string
		payloadHash  string
		payloadBytes []byte
		signature    string
		createdAt    string
		tsaProof     []byte
		otsProof     []byte
		manifestHash string
	)
	err := row.Scan(&kind, &keyID, &payloadHash, &payloadBytes, &signature, &createdAt, &tsaProof, &otsProof, &manifestHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attestation: %w", errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("scan attestation: %w", err)
	}
	return &StoredAttestation{
		Attestation: model.Attestation{
			Kind:         model.Role(kind),
			KeyID:        keyID,
			PayloadHash:  payloadHash,
			PayloadBytes: payloadBytes,
			Signature:    signature,
			CreatedAt:    createdAt,
			TSAProof:     tsaProof,
			OTSProof:     otsProof,
		},
		ManifestHash: manifestHash,
	}, nil
}
