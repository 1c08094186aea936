// Package ingest admits a release into the transparency log: it loads a
// release description, validates the manifest and the three-role attestation
// chain, verifies signatures and external timestamp proofs, and appends
// exactly one log entry, all inside a single transaction.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/model"
)

// releaseFile mirrors the on-disk TOML release description. Paths are
// resolved relative to the description file.
type releaseFile struct {
	Release      releaseSection       `toml:"release"`
	Manifest     manifestSection      `toml:"manifest"`
	Attestations []attestationSection `toml:"attestations"`
}

type releaseSection struct {
	Package   string `toml:"package"`
	Version   string `toml:"version"`
	Channel   string `toml:"channel"`
	CreatedAt string `toml:"created_at"`
}

type manifestSection struct {
	Path   string `toml:"path"`
	BLAKE3 string `toml:"blake3"`
}

type attestationSection struct {
	Kind         string `toml:"kind"`
	KeyID        string `toml:"key_id"`
	PayloadPath  string `toml:"payload_path"`
	Signature    string `toml:"signature"`
	CreatedAt    string `toml:"created_at"`
	TSAProofPath string `toml:"tsa_proof_path"`
	OTSProofPath string `toml:"ots_proof_path"`
}

// ReleaseAttestation is one attestation from a release description with its
// payload and proof blobs loaded.
type ReleaseAttestation struct {
	Kind         model.Role
	KeyID        string
	PayloadBytes []byte
	Signature    string
	CreatedAt    string
	TSAProof     []byte
	OTSProof     []byte
}

// Release is a fully loaded release description ready for the pipeline.
type Release struct {
	Package        string
	Version        string
	Channel        string
	CreatedAt      string
	ManifestBytes  []byte
	ManifestBLAKE3 string
	Attestations   []ReleaseAttestation
}

// LoadRelease reads and validates a TOML release description. File
// references are loaded eagerly so the pipeline works on bytes only.
func LoadRelease(path string) (*Release, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read release description: %w", err)
	}
	var file releaseFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse release description: %v: %w", err, errdefs.ErrInvalidRequest)
	}
	base := filepath.Dir(path)

	rel := &Release{
		Package:        strings.TrimSpace(file.Release.Package),
		Version:        strings.TrimSpace(file.Release.Version),
		Channel:        strings.TrimSpace(file.Release.Channel),
		CreatedAt:      strings.TrimSpace(file.Release.CreatedAt),
		ManifestBLAKE3: strings.TrimSpace(file.Manifest.BLAKE3),
	}
	if rel.Package == "" {
		return nil, fmt.Errorf("release.package is required: %w", errdefs.ErrInvalidRequest)
	}
	if rel.Version == "" {
		return nil, fmt.Errorf("release.version is required: %w", errdefs.ErrInvalidRequest)
	}
	if rel.Channel == "" {
		rel.Channel = "stable"
	}
	if rel.CreatedAt == "" {
		rel.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, rel.CreatedAt); err != nil {
		return nil, fmt.Errorf("release.created_at %q is not RFC 3339: %w", rel.CreatedAt, errdefs.ErrInvalidRequest)
	}

	if strings.TrimSpace(file.Manifest.Path) == "" {
		return nil, fmt.Errorf("manifest.path is required: %w", errdefs.ErrInvalidRequest)
	}
	rel.ManifestBytes, err = os.ReadFile(resolvePath(base, file.Manifest.Path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	for _, sec := range file.Attestations {
		att, err := loadAttestation(base, sec)
		if err != nil {
			return nil, err
		}
		rel.Attestations = append(rel.Attestations, *att)
	}
	return rel, nil
}

func loadAttestation(base string, sec attestationSection) (*ReleaseAttestation, error) {
	kind, err := model.ParseRole(strings.TrimSpace(sec.Kind))
	if err != nil {
		return nil, err
	}
	keyID := strings.TrimSpace(sec.KeyID)
	signature := strings.TrimSpace(sec.Signature)
	createdAt := strings.TrimSpace(sec.CreatedAt)
	if keyID == "" || signature == "" || createdAt == "" {
		return nil, fmt.Errorf("%s attestation: key_id, signature and created_at are required: %w", kind, errdefs.ErrInvalidRequest)
	}
	if sec.PayloadPath == "" {
		return nil, fmt.Errorf("%s attestation: payload_path is required: %w", kind, errdefs.ErrInvalidRequest)
	}
	payload, err := os.ReadFile(resolvePath(base, sec.PayloadPath))
	if err != nil {
		return nil, fmt.Errorf("read %s payload: %w", kind, err)
	}
	tsa, err := os.ReadFile(resolvePath(base, sec.TSAProofPath))
	if err != nil {
		return nil, fmt.Errorf("read %s TSA proof: %w", kind, err)
	}
	ots, err := os.ReadFile(resolvePath(base, sec.OTSProofPath))
	if err != nil {
		return nil, fmt.Errorf("read %s OTS proof: %w", kind, err)
	}
	if len(tsa) == 0 || len(ots) == 0 {
		return nil, fmt.Errorf("%s attestation: timestamp proofs must not be empty: %w", kind, errdefs.ErrInvalidRequest)
	}
	return &ReleaseAttestation{
		Kind:         kind,
		KeyID:        keyID,
		PayloadBytes: payload,
		Signature:    signature,
		CreatedAt:    createdAt,
		TSAProof:     tsa,
		OTSProof:     ots,
	}, nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
