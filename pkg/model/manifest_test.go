package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/errdefs"
)

func validManifest() *Manifest {
	return &Manifest{
		SchemaVersion: 1,
		Package:       "demo",
		Version:       "1.0.0",
		Channel:       "stable",
		CreatedAt:     "2026-01-02T03:04:05Z",
		License:       "MIT",
		HashAlgo:      "blake3",
		Artifacts: []Artifact{
			{
				Kind:   ArtifactBinary,
				OS:     "linux",
				Arch:   "x86_64",
				Size:   12,
				BLAKE3: canonical.SumHex([]byte("binary")),
				URL:    "https://example.invalid/demo/1.0.0/demo-linux-x86_64",
			},
			{
				Kind:   ArtifactSource,
				Size:   12,
				BLAKE3: canonical.SumHex([]byte("source")),
				URL:    "https://example.invalid/demo/1.0.0/demo.uvd",
			},
		},
		SrcIndex: SrcIndex{
			Path:   "SRC",
			Size:   20,
			BLAKE3: canonical.SumHex([]byte("src index")),
		},
	}
}

func manifestBytes(t *testing.T, m *Manifest) []byte {
	t.Helper()
	raw, err := canonical.Bytes(m)
	require.NoError(t, err)
	return raw
}

func TestParseManifestRoundtrip(t *testing.T) {
	raw := manifestBytes(t, validManifest())
	m, err := ParseManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Package)
	assert.Equal(t, "1.0.0", m.Version)
	require.NotNil(t, m.SourceArtifact())
	require.NotNil(t, m.BinaryArtifact("linux", "x86_64"))
	assert.Nil(t, m.BinaryArtifact("darwin", "arm64"))
	assert.Equal(t, []string{m.Artifacts[0].BLAKE3}, m.BinaryArtifactHashes())
}

func TestParseManifestRejectsNonCanonicalBytes(t *testing.T) {
	raw := manifestBytes(t, validManifest())
	pretty := append([]byte(" "), raw...)
	_, err := ParseManifest(pretty)
	assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
}

func TestParseManifestRejectsBadJSON(t *testing.T) {
	_, err := ParseManifest([]byte("{"))
	assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
}

func TestParseManifestSchemaViolations(t *testing.T) {
	cases := map[string]func(m *Manifest){
		"wrong schema_version": func(m *Manifest) { m.SchemaVersion = 2 },
		"empty package":        func(m *Manifest) { m.Package = "" },
		"wrong hash_algo":      func(m *Manifest) { m.HashAlgo = "sha256" },
		"bad artifact hash":    func(m *Manifest) { m.Artifacts[0].BLAKE3 = "nothex" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := validManifest()
			mutate(m)
			_, err := ParseManifest(manifestBytes(t, m))
			assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
		})
	}
}

func TestParseManifestArtifactInvariants(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		m := validManifest()
		m.Artifacts = append(m.Artifacts[:1], Artifact{
			Kind: ArtifactBinary, OS: "darwin", Arch: "arm64", Size: 1,
			BLAKE3: canonical.SumHex([]byte("b2")), URL: "https://example.invalid/b2",
		})
		_, err := ParseManifest(manifestBytes(t, m))
		assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
	})

	t.Run("source with os", func(t *testing.T) {
		m := validManifest()
		m.Artifacts[1].OS = "linux"
		m.Artifacts[1].Arch = "x86_64"
		_, err := ParseManifest(manifestBytes(t, m))
		assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
	})

	t.Run("binary without arch", func(t *testing.T) {
		m := validManifest()
		m.Artifacts[0].Arch = ""
		_, err := ParseManifest(manifestBytes(t, m))
		assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
	})

	t.Run("duplicate platform", func(t *testing.T) {
		m := validManifest()
		m.Artifacts = append(m.Artifacts, m.Artifacts[0])
		_, err := ParseManifest(manifestBytes(t, m))
		assert.ErrorIs(t, err, errdefs.ErrManifestInvalid)
	})
}

func TestManifestHashDeterminism(t *testing.T) {
	first := manifestBytes(t, validManifest())
	for i := 0; i < 5; i++ {
		assert.Equal(t, canonical.SumHex(first), canonical.SumHex(manifestBytes(t, validManifest())))
	}
}
