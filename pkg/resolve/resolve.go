// Package resolve answers install and update queries: it picks the release,
// revalidates the stored rows and assembles the verifiable evidence block
// (inclusion proof, optional consistency proof, signed tree head).
package resolve

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/merkle"
	"github.com/silexium-dev/silexium/pkg/model"
	"github.com/silexium-dev/silexium/pkg/store"
	"github.com/silexium-dev/silexium/pkg/translog"
)

// Service resolves client queries against the store and the log.
type Service struct {
	manifests *store.ManifestStore
	atts      *store.AttestationStore
	logs      *store.LogStore
	log       *translog.Log
	logger    *slog.Logger
}

func NewService(db *sql.DB, log *translog.Log, logger *slog.Logger) *Service {
	return &Service{
		manifests: store.NewManifestStore(db),
		atts:      store.NewAttestationStore(db),
		logs:      store.NewLogStore(db),
		log:       log,
		logger:    logger,
	}
}

// Install resolves a specific or the latest release of a package.
func (s *Service) Install(ctx context.Context, req *InstallRequest) (*Response, error) {
	return s.resolve(ctx, query{
		pack:     req.Package,
		os:       req.OS,
		arch:     req.Arch,
		version:  req.Version,
		channel:  req.Channel,
		knownSTH: req.KnownSTH,
	})
}

// Update resolves the latest release in the channel and marks the response
// up_to_date when it matches current_version.
func (s *Service) Update(ctx context.Context, req *UpdateRequest) (*Response, error) {
	if strings.TrimSpace(req.CurrentVersion) == "" {
		return nil, fmt.Errorf("current_version is required: %w", errdefs.ErrInvalidRequest)
	}
	return s.resolve(ctx, query{
		pack:           req.Package,
		os:             req.OS,
		arch:           req.Arch,
		channel:        req.Channel,
		currentVersion: req.CurrentVersion,
		knownSTH:       req.KnownSTH,
	})
}

type query struct {
	pack           string
	os             string
	arch           string
	version        string
	channel        string
	currentVersion string
	knownSTH       *KnownSTH
}

func (s *Service) resolve(ctx context.Context, q query) (*Response, error) {
	for _, field := range []struct{ name, value string }{
		{"package", q.pack}, {"os", q.os}, {"arch", q.arch},
	} {
		if strings.TrimSpace(field.value) == "" {
			return nil, fmt.Errorf("%s is required: %w", field.name, errdefs.ErrInvalidRequest)
		}
	}
	channel := q.channel
	if channel == "" {
		channel = "stable"
	}

	row, err := s.pickRelease(ctx, q.pack, q.version, channel)
	if err != nil {
		return nil, err
	}

	manifest, artifacts, err := s.checkManifestRow(row, q.os, q.arch)
	if err != nil {
		return nil, err
	}

	atts, err := s.atts.ForManifest(ctx, row.ManifestHash)
	if err != nil {
		return nil, err
	}

	entry, err := s.logs.EntryByManifest(ctx, row.ManifestHash)
	if err != nil {
		return nil, err
	}
	if err := checkChain(entry, atts); err != nil {
		return nil, err
	}

	proof, err := s.buildLogProof(ctx, entry, q.knownSTH)
	if err != nil {
		return nil, err
	}

	out := make([]AttestationOut, 0, len(atts))
	for _, att := range atts {
		out = append(out, AttestationOut{
			Kind:        string(att.Kind),
			KeyID:       att.KeyID,
			PayloadHash: att.PayloadHash,
			Signature:   att.Signature,
			CreatedAt:   att.CreatedAt,
			TSAProofHex: hex.EncodeToString(att.TSAProof),
			OTSProofHex: hex.EncodeToString(att.OTSProof),
		})
	}

	return &Response{
		Package:  q.pack,
		Version:  manifest.Version,
		Channel:  manifest.Channel,
		OS:       q.os,
		Arch:     q.arch,
		UpToDate: q.currentVersion != "" && q.currentVersion == manifest.Version,
		Manifest: ManifestOut{
			BytesHex: hex.EncodeToString(row.Bytes),
			BLAKE3:   row.ManifestHash,
		},
		Artifacts:    artifacts,
		Attestations: out,
		Log:          *proof,
	}, nil
}

// pickRelease finds the manifest row for an exact version, or the latest in
// the channel when no version is given.
func (s *Service) pickRelease(ctx context.Context, pack, version, channel string) (*store.ManifestRow, error) {
	if version != "" {
		row, err := s.manifests.GetVersion(ctx, pack, version, channel)
		if err != nil {
			return nil, fmt.Errorf("%s@%s (%s): %w", pack, version, channel, err)
		}
		return row, nil
	}
	rows, err := s.manifests.ListChannel(ctx, pack, channel)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no release of %s in channel %s: %w", pack, channel, errdefs.ErrNotFound)
	}
	return latestRelease(rows), nil
}

// latestRelease orders by semantic version, falling back to ingest order for
// versions that do not parse. rows arrive in created_at order, so ties and
// the fallback both resolve to the most recently ingested row.
func latestRelease(rows []store.ManifestRow) *store.ManifestRow {
	best := &rows[0]
	bestVer, bestOK := parseVersion(rows[0].Version)
	for i := 1; i < len(rows); i++ {
		ver, ok := parseVersion(rows[i].Version)
		switch {
		case ok && bestOK:
			if ver.Compare(bestVer) >= 0 {
				best, bestVer = &rows[i], ver
			}
		case ok && !bestOK:
			best, bestVer, bestOK = &rows[i], ver, true
		case !ok && !bestOK:
			best = &rows[i]
		}
	}
	return best
}

func parseVersion(s string) (*semver.Version, bool) {
	v, err := semver.NewVersion(s)
	return v, err == nil
}

// checkManifestRow revalidates the stored bytes before serving them and
// filters artifacts to the requested platform plus the source artifact.
func (s *Service) checkManifestRow(row *store.ManifestRow, os, arch string) (*model.Manifest, []model.Artifact, error) {
	if got := canonical.SumHex(row.Bytes); got != row.ManifestHash {
		s.logger.Error("stored manifest bytes do not hash to their key",
			"manifest_hash", row.ManifestHash, "computed", got)
		return nil, nil, fmt.Errorf("manifest %s is corrupted: %w", row.ManifestHash, errdefs.ErrInternal)
	}
	manifest, err := model.ParseManifest(row.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("stored manifest %s: %v: %w", row.ManifestHash, err, errdefs.ErrInternal)
	}

	binary := manifest.BinaryArtifact(os, arch)
	if binary == nil {
		return nil, nil, fmt.Errorf("no %s/%s binary for %s@%s: %w",
			os, arch, manifest.Package, manifest.Version, errdefs.ErrNotFound)
	}
	return manifest, []model.Artifact{*binary, *manifest.SourceArtifact()}, nil
}

// checkChain recomputes the attestation and entry hashes so a corrupted row
// is never served with a valid-looking proof.
func checkChain(entry *model.LogEntry, atts []store.StoredAttestation) error {
	want := map[model.Role]string{
		model.RoleAuthor: entry.AuthorHash,
		model.RoleTests:  entry.TestsHash,
		model.RoleServer: entry.ServerHash,
	}
	for _, att := range atts {
		if canonical.SumHex(att.PayloadBytes) != att.PayloadHash {
			return fmt.Errorf("%s attestation payload is corrupted: %w", att.Kind, errdefs.ErrInternal)
		}
		if att.Hash() != want[att.Kind] {
			return fmt.Errorf("%s attestation does not match the log entry: %w", att.Kind, errdefs.ErrInternal)
		}
	}
	return nil
}

// buildLogProof assembles the evidence block from one log snapshot, so the
// inclusion proof, the optional consistency proof and the tree head all
// describe the same tree.
func (s *Service) buildLogProof(ctx context.Context, entry *model.LogEntry, known *KnownSTH) (*LogProof, error) {
	snap := s.log.Snapshot()

	leaf, err := snap.Leaf(entry.LeafIndex)
	if err != nil {
		return nil, fmt.Errorf("log entry %d: %v: %w", entry.LeafIndex, err, errdefs.ErrInternal)
	}
	if leaf.String() != entry.Hash() {
		return nil, fmt.Errorf("log entry %d does not match its leaf: %w", entry.LeafIndex, errdefs.ErrInternal)
	}

	inclusion, err := snap.Inclusion(entry.LeafIndex)
	if err != nil {
		return nil, err
	}

	var consistency []string
	if known != nil {
		consistency, err = s.consistencyBlock(snap, known)
		if err != nil {
			return nil, err
		}
	}

	sth, err := s.log.TreeHead(ctx, snap)
	if err != nil {
		return nil, err
	}

	return &LogProof{
		TreeSize:    snap.Size(),
		LeafIndex:   uint64(entry.LeafIndex),
		EntryHash:   entry.Hash(),
		LeafHash:    merkle.LeafHash(leaf).String(),
		Inclusion:   encodeHashes(inclusion),
		Consistency: consistency,
		STH:         *sth,
	}, nil
}

func (s *Service) consistencyBlock(snap *translog.Snapshot, known *KnownSTH) ([]string, error) {
	switch {
	case known.TreeSize > snap.Size():
		return nil, fmt.Errorf("known_sth tree_size %d is ahead of the log (size %d): %w",
			known.TreeSize, snap.Size(), errdefs.ErrInvalidRequest)
	case known.TreeSize == 0 || known.TreeSize == snap.Size():
		return nil, nil
	}
	rootAt, err := snap.RootAt(known.TreeSize)
	if err != nil {
		return nil, err
	}
	if rootAt.String() != known.RootHash {
		return nil, fmt.Errorf("known_sth root at size %d does not match this log: %w",
			known.TreeSize, errdefs.ErrInvalidRequest)
	}
	proof, err := snap.Consistency(known.TreeSize)
	if err != nil {
		return nil, err
	}
	return encodeHashes(proof), nil
}

func encodeHashes(hashes []merkle.Hash) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, h.String())
	}
	return out
}
