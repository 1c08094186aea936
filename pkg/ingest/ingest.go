package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/model"
	"github.com/silexium-dev/silexium/pkg/proofs"
	"github.com/silexium-dev/silexium/pkg/store"
	"github.com/silexium-dev/silexium/pkg/translog"
)

// Pipeline validates releases and appends them to the log. Appends are
// serialized by the log's writer lock; every database write for one release
// happens in one transaction, so a rejected release leaves no trace.
type Pipeline struct {
	db       *sql.DB
	log      *translog.Log
	verifier *proofs.Verifier
	logger   *slog.Logger
}

func NewPipeline(db *sql.DB, log *translog.Log, verifier *proofs.Verifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{db: db, log: log, verifier: verifier, logger: logger}
}

// Run admits one release. On success the returned entry is durable and the
// in-memory tree covers it.
func (p *Pipeline) Run(ctx context.Context, rel *Release) (*model.LogEntry, error) {
	manifest, manifestHash, err := p.checkManifest(rel)
	if err != nil {
		return nil, err
	}

	chain, err := orderChain(rel.Attestations)
	if err != nil {
		return nil, err
	}

	entry, err := p.log.Append(ctx, func(leafIndex int64) (*model.LogEntry, error) {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin ingest transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		keys := store.NewKeyStore(tx)
		atts := store.NewAttestationStore(tx)
		manifests := store.NewManifestStore(tx)
		logs := store.NewLogStore(tx)

		// Hashes of accepted attestations so far, keyed by role, so later
		// payloads can be checked against the chain they claim to extend.
		accepted := map[model.Role]string{}
		for _, ra := range chain {
			att, err := p.acceptAttestation(ctx, keys, atts, ra, manifest, manifestHash, accepted)
			if err != nil {
				return nil, err
			}
			accepted[ra.Kind] = att.Hash()
		}

		if err := manifests.Insert(ctx, &store.ManifestRow{
			ManifestHash: manifestHash,
			Package:      manifest.Package,
			Version:      manifest.Version,
			Channel:      manifest.Channel,
			CreatedAt:    rel.CreatedAt,
			Bytes:        rel.ManifestBytes,
		}); err != nil {
			return nil, err
		}

		entry := &model.LogEntry{
			LeafIndex:    leafIndex,
			ManifestHash: manifestHash,
			AuthorHash:   accepted[model.RoleAuthor],
			TestsHash:    accepted[model.RoleTests],
			ServerHash:   accepted[model.RoleServer],
			AppendedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if err := logs.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit ingest transaction: %w", err)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("release ingested",
		"package", manifest.Package,
		"version", manifest.Version,
		"channel", manifest.Channel,
		"manifest_hash", manifestHash,
		"leaf_index", entry.LeafIndex,
	)
	return entry, nil
}

func (p *Pipeline) checkManifest(rel *Release) (*model.Manifest, string, error) {
	manifest, err := model.ParseManifest(rel.ManifestBytes)
	if err != nil {
		return nil, "", err
	}
	manifestHash := canonical.SumHex(rel.ManifestBytes)
	if rel.ManifestBLAKE3 != "" && rel.ManifestBLAKE3 != manifestHash {
		return nil, "", fmt.Errorf("manifest blake3 mismatch: description pins %s, computed %s: %w",
			rel.ManifestBLAKE3, manifestHash, errdefs.ErrManifestInvalid)
	}
	if manifest.Package != rel.Package || manifest.Version != rel.Version || manifest.Channel != rel.Channel {
		return nil, "", fmt.Errorf("manifest identifies %s@%s (%s), release description says %s@%s (%s): %w",
			manifest.Package, manifest.Version, manifest.Channel,
			rel.Package, rel.Version, rel.Channel, errdefs.ErrManifestInvalid)
	}
	return manifest, manifestHash, nil
}

// orderChain arranges the attestations in chain order and rejects missing or
// repeated roles.
func orderChain(atts []ReleaseAttestation) ([]ReleaseAttestation, error) {
	byRole := map[model.Role]*ReleaseAttestation{}
	for i := range atts {
		ra := &atts[i]
		if byRole[ra.Kind] != nil {
			return nil, fmt.Errorf("release carries two %s attestations: %w", ra.Kind, errdefs.ErrDuplicateAttestation)
		}
		byRole[ra.Kind] = ra
	}
	chain := make([]ReleaseAttestation, 0, len(model.Roles))
	for _, role := range model.Roles {
		ra := byRole[role]
		if ra == nil {
			return nil, fmt.Errorf("release is missing the %s attestation: %w", role, errdefs.ErrInvalidRequest)
		}
		chain = append(chain, *ra)
	}
	return chain, nil
}

// acceptAttestation runs the per-role acceptance checks in order: structural
// payload validation, key validity at created_at, signature over the payload
// hash, external timestamp proofs, then insertion.
func (p *Pipeline) acceptAttestation(
	ctx context.Context,
	keys *store.KeyStore,
	atts *store.AttestationStore,
	ra ReleaseAttestation,
	manifest *model.Manifest,
	manifestHash string,
	accepted map[model.Role]string,
) (*model.Attestation, error) {
	if err := checkPayload(ra, manifest, manifestHash, accepted); err != nil {
		return nil, err
	}
	payloadHash := canonical.SumHex(ra.PayloadBytes)

	att := &model.Attestation{
		Kind:         ra.Kind,
		KeyID:        ra.KeyID,
		PayloadHash:  payloadHash,
		PayloadBytes: ra.PayloadBytes,
		Signature:    ra.Signature,
		CreatedAt:    ra.CreatedAt,
		TSAProof:     ra.TSAProof,
		OTSProof:     ra.OTSProof,
	}
	createdAt, err := att.CreatedTime()
	if err != nil {
		return nil, fmt.Errorf("%s attestation: %w", ra.Kind, err)
	}
	if err := keys.Verify(ctx, ra.Kind, ra.KeyID, []byte(payloadHash), ra.Signature, createdAt); err != nil {
		return nil, err
	}
	if err := p.verifier.Verify(ctx, payloadHash, ra.TSAProof, ra.OTSProof); err != nil {
		return nil, fmt.Errorf("%s attestation: %w", ra.Kind, err)
	}
	if err := atts.Insert(ctx, att, manifestHash); err != nil {
		return nil, err
	}
	return att, nil
}

// checkPayload decodes the role payload, requires it to be in canonical form
// and checks every reference it makes against the manifest and the already
// accepted attestations.
func checkPayload(ra ReleaseAttestation, manifest *model.Manifest, manifestHash string, accepted map[model.Role]string) error {
	switch ra.Kind {
	case model.RoleAuthor:
		var payload model.AuthorPayload
		if err := decodeCanonical(ra, ra.PayloadBytes, &payload); err != nil {
			return err
		}
		if payload.SchemaVersion != 1 {
			return payloadErr(ra.Kind, "schema_version must be 1")
		}
		if payload.ManifestHash != manifestHash {
			return payloadErr(ra.Kind, "manifest_hash does not match the manifest")
		}
		if payload.Package != manifest.Package || payload.Version != manifest.Version || payload.Channel != manifest.Channel {
			return payloadErr(ra.Kind, "package identity does not match the manifest")
		}
		if payload.SrcIndexHash != manifest.SrcIndex.BLAKE3 {
			return payloadErr(ra.Kind, "src_index_hash does not match the manifest")
		}
		src := manifest.SourceArtifact()
		if src == nil || payload.SourceArtifactHash != src.BLAKE3 {
			return payloadErr(ra.Kind, "source_artifact_hash does not match the manifest")
		}

	case model.RoleTests:
		var payload model.TestsPayload
		if err := decodeCanonical(ra, ra.PayloadBytes, &payload); err != nil {
			return err
		}
		if payload.SchemaVersion != 1 {
			return payloadErr(ra.Kind, "schema_version must be 1")
		}
		if payload.ManifestHash != manifestHash {
			return payloadErr(ra.Kind, "manifest_hash does not match the manifest")
		}
		if payload.AuthorAttestationHash != accepted[model.RoleAuthor] {
			return payloadErr(ra.Kind, "author_attestation_hash does not match the accepted author attestation")
		}
		if payload.TestSuiteID == "" {
			return payloadErr(ra.Kind, "test_suite_id is required")
		}
		if payload.TestResult != model.TestResultPass && payload.TestResult != model.TestResultFail {
			return payloadErr(ra.Kind, "test_result must be pass or fail")
		}

	case model.RoleServer:
		var payload model.ServerPayload
		if err := decodeCanonical(ra, ra.PayloadBytes, &payload); err != nil {
			return err
		}
		if payload.SchemaVersion != 1 {
			return payloadErr(ra.Kind, "schema_version must be 1")
		}
		if payload.ManifestHash != manifestHash {
			return payloadErr(ra.Kind, "manifest_hash does not match the manifest")
		}
		if payload.AuthorAttestationHash != accepted[model.RoleAuthor] {
			return payloadErr(ra.Kind, "author_attestation_hash does not match the accepted author attestation")
		}
		if payload.TestsAttestationHash != accepted[model.RoleTests] {
			return payloadErr(ra.Kind, "tests_attestation_hash does not match the accepted tests attestation")
		}
		want := manifest.BinaryArtifactHashes()
		if len(payload.BinaryArtifactHashes) != len(want) {
			return payloadErr(ra.Kind, "binary_artifact_hashes does not match the manifest")
		}
		for i := range want {
			if payload.BinaryArtifactHashes[i] != want[i] {
				return payloadErr(ra.Kind, "binary_artifact_hashes does not match the manifest")
			}
		}
		src := manifest.SourceArtifact()
		if src == nil || payload.SourceArtifactHash != src.BLAKE3 {
			return payloadErr(ra.Kind, "source_artifact_hash does not match the manifest")
		}
	}
	return nil
}

// decodeCanonical unmarshals raw into v and requires raw to be the canonical
// form of v, since the payload hash is defined over exactly these bytes.
func decodeCanonical(ra ReleaseAttestation, raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s payload: %v: %w", ra.Kind, err, errdefs.ErrInvalidRequest)
	}
	canon, err := canonical.Bytes(v)
	if err != nil {
		return fmt.Errorf("%s payload: %w", ra.Kind, err)
	}
	if !bytes.Equal(canon, raw) {
		return payloadErr(ra.Kind, "bytes are not in canonical form")
	}
	return nil
}

func payloadErr(role model.Role, msg string) error {
	return fmt.Errorf("%s payload: %s: %w", role, msg, errdefs.ErrInvalidRequest)
}
