// Package fixture builds complete, correctly signed fake releases: manifest,
// three-role attestation chain, mock timestamp proofs and role keys. Tests
// feed the result straight into the ingest pipeline; the silexium-fakerelease
// command writes it out as a release directory.
package fixture

import (
	"fmt"
	"time"

	"lukechampine.com/blake3"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/ingest"
	"github.com/silexium-dev/silexium/pkg/model"
)

// Options selects the identity of the generated release. Zero values fall
// back to the defaults below.
type Options struct {
	Package   string
	Version   string
	Channel   string
	License   string
	OS        string
	Arch      string
	CreatedAt time.Time
	// Seed makes key derivation and signatures deterministic. Defaults to
	// the created_at timestamp.
	Seed string
}

func (o *Options) fill() {
	if o.Package == "" {
		o.Package = "uvd"
	}
	if o.Version == "" {
		o.Version = "0.0.0"
	}
	if o.Channel == "" {
		o.Channel = "stable"
	}
	if o.License == "" {
		o.License = "MIT"
	}
	if o.OS == "" {
		o.OS = "linux"
	}
	if o.Arch == "" {
		o.Arch = "x86_64"
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Seed == "" {
		o.Seed = o.CreatedAt.UTC().Format(time.RFC3339)
	}
}

// Release is a generated release with everything needed to ingest it.
type Release struct {
	Options Options

	Manifest      *model.Manifest
	ManifestBytes []byte
	ManifestHash  string

	BinaryBytes  []byte
	SourceBytes  []byte
	SrcIndex     []byte
	SrcIndexHash string

	Signers map[model.Role]*crypto.Signer

	// Payload bytes and attestation hashes per role, in canonical form.
	Payloads map[model.Role][]byte
	AttHash  map[model.Role]string

	Ingest *ingest.Release
}

// Keys returns the three role keys with a validity window around the
// release's timestamps.
func (r *Release) Keys() []model.Key {
	notBefore := r.Options.CreatedAt.Add(-time.Hour)
	notAfter := r.Options.CreatedAt.Add(365 * 24 * time.Hour)
	keys := make([]model.Key, 0, len(model.Roles))
	for _, role := range model.Roles {
		signer := r.Signers[role]
		keys = append(keys, model.Key{
			Role:      role,
			KeyID:     signer.KeyID,
			PublicKey: signer.PublicKeyBytes(),
			NotBefore: notBefore,
			NotAfter:  notAfter,
		})
	}
	return keys
}

// Build generates a release.
func Build(opts Options) (*Release, error) {
	opts.fill()
	createdAt := opts.CreatedAt.UTC().Format(time.RFC3339)
	testsCreatedAt := opts.CreatedAt.Add(10 * time.Second).UTC().Format(time.RFC3339)
	serverCreatedAt := opts.CreatedAt.Add(20 * time.Second).UTC().Format(time.RFC3339)

	rel := &Release{
		Options:     opts,
		BinaryBytes: []byte("fake-binary\n"),
		SourceBytes: []byte("fake-source\n"),
		Signers:     map[model.Role]*crypto.Signer{},
		Payloads:    map[model.Role][]byte{},
		AttHash:     map[model.Role]string{},
	}
	binaryHash := canonical.SumHex(rel.BinaryBytes)
	sourceHash := canonical.SumHex(rel.SourceBytes)

	hello := []byte("hello\n")
	rel.SrcIndex = []byte(fmt.Sprintf("hello.txt\t%d\t%s\n", len(hello), canonical.SumHex(hello)))
	rel.SrcIndexHash = canonical.SumHex(rel.SrcIndex)

	for _, role := range model.Roles {
		signer, err := signerFor(opts.Seed, role)
		if err != nil {
			return nil, err
		}
		rel.Signers[role] = signer
	}

	rel.Manifest = &model.Manifest{
		SchemaVersion: 1,
		Package:       opts.Package,
		Version:       opts.Version,
		Channel:       opts.Channel,
		CreatedAt:     createdAt,
		License:       opts.License,
		HashAlgo:      "blake3",
		Artifacts: []model.Artifact{
			{
				Kind:   model.ArtifactBinary,
				OS:     opts.OS,
				Arch:   opts.Arch,
				Size:   int64(len(rel.BinaryBytes)),
				BLAKE3: binaryHash,
				URL: fmt.Sprintf("https://example.invalid/%s/%s/%s-%s-%s",
					opts.Package, opts.Version, opts.Package, opts.OS, opts.Arch),
			},
			{
				Kind:   model.ArtifactSource,
				Size:   int64(len(rel.SourceBytes)),
				BLAKE3: sourceHash,
				URL: fmt.Sprintf("https://example.invalid/%s/%s/%s.uvd",
					opts.Package, opts.Version, opts.Package),
			},
		},
		SrcIndex: model.SrcIndex{
			Path:   "SRC",
			Size:   int64(len(rel.SrcIndex)),
			BLAKE3: rel.SrcIndexHash,
		},
	}
	var err error
	rel.ManifestBytes, err = canonical.Bytes(rel.Manifest)
	if err != nil {
		return nil, err
	}
	rel.ManifestHash = canonical.SumHex(rel.ManifestBytes)

	author, err := rel.attest(model.RoleAuthor, createdAt, &model.AuthorPayload{
		SchemaVersion:      1,
		Package:            opts.Package,
		Version:            opts.Version,
		Channel:            opts.Channel,
		ManifestHash:       rel.ManifestHash,
		SrcIndexHash:       rel.SrcIndexHash,
		SourceArtifactHash: sourceHash,
		License:            opts.License,
	})
	if err != nil {
		return nil, err
	}

	tests, err := rel.attest(model.RoleTests, testsCreatedAt, &model.TestsPayload{
		SchemaVersion:         1,
		AuthorAttestationHash: rel.AttHash[model.RoleAuthor],
		ManifestHash:          rel.ManifestHash,
		TestSuiteID:           "fake-suite",
		TestResult:            model.TestResultPass,
	})
	if err != nil {
		return nil, err
	}

	server, err := rel.attest(model.RoleServer, serverCreatedAt, &model.ServerPayload{
		SchemaVersion:         1,
		AuthorAttestationHash: rel.AttHash[model.RoleAuthor],
		TestsAttestationHash:  rel.AttHash[model.RoleTests],
		ManifestHash:          rel.ManifestHash,
		BinaryArtifactHashes:  []string{binaryHash},
		SourceArtifactHash:    sourceHash,
	})
	if err != nil {
		return nil, err
	}

	rel.Ingest = &ingest.Release{
		Package:       opts.Package,
		Version:       opts.Version,
		Channel:       opts.Channel,
		CreatedAt:     createdAt,
		ManifestBytes: rel.ManifestBytes,
		Attestations:  []ingest.ReleaseAttestation{*author, *tests, *server},
	}
	return rel, nil
}

// attest canonicalizes the payload, signs its hash with the role key and
// records the resulting attestation hash for later chain references.
func (r *Release) attest(role model.Role, createdAt string, payload any) (*ingest.ReleaseAttestation, error) {
	raw, err := canonical.Bytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", role, err)
	}
	r.Payloads[role] = raw
	payloadHash := canonical.SumHex(raw)
	signer := r.Signers[role]

	att := &ingest.ReleaseAttestation{
		Kind:         role,
		KeyID:        signer.KeyID,
		PayloadBytes: raw,
		Signature:    signer.Sign([]byte(payloadHash)),
		CreatedAt:    createdAt,
		TSAProof:     []byte(fmt.Sprintf("tsa-%s\n", role)),
		OTSProof:     []byte(fmt.Sprintf("ots-%s\n", role)),
	}
	r.AttHash[role] = (&model.Attestation{
		Kind:        role,
		KeyID:       att.KeyID,
		PayloadHash: payloadHash,
		Signature:   att.Signature,
		CreatedAt:   att.CreatedAt,
		TSAProof:    att.TSAProof,
		OTSProof:    att.OTSProof,
	}).Hash()
	return att, nil
}

// signerFor derives a deterministic role key from the seed.
func signerFor(seed string, role model.Role) (*crypto.Signer, error) {
	sum := blake3.Sum256([]byte(fmt.Sprintf("silexium-fake-release:%s:%s", seed, role)))
	return crypto.NewSignerFromSeed(sum[:], "")
}
