package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// Artifact kinds admitted in a manifest.
const (
	ArtifactBinary = "binary"
	ArtifactSource = "source"
)

// Artifact describes one downloadable release file, referenced by hash and
// URL. Binary artifacts are keyed by (os, arch); the source artifact carries
// neither.
type Artifact struct {
	Kind   string `json:"kind"`
	OS     string `json:"os,omitempty"`
	Arch   string `json:"arch,omitempty"`
	Size   int64  `json:"size"`
	BLAKE3 string `json:"blake3"`
	URL    string `json:"url"`
}

// SrcIndex points at the source file index shipped with a release.
type SrcIndex struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	BLAKE3 string `json:"blake3"`
}

// Manifest is the canonical, immutable description of one release. Its
// identity is the BLAKE3 digest of its canonical byte form.
type Manifest struct {
	SchemaVersion int        `json:"schema_version"`
	Package       string     `json:"package"`
	Version       string     `json:"version"`
	Channel       string     `json:"channel"`
	CreatedAt     string     `json:"created_at"`
	License       string     `json:"license"`
	HashAlgo      string     `json:"hash_algo"`
	Artifacts     []Artifact `json:"artifacts"`
	SrcIndex      SrcIndex   `json:"src_index"`
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "package", "version", "channel", "created_at", "license", "hash_algo", "artifacts", "src_index"],
  "additionalProperties": false,
  "properties": {
    "schema_version": {"const": 1},
    "package": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "channel": {"type": "string", "minLength": 1},
    "created_at": {"type": "string", "format": "date-time"},
    "license": {"type": "string"},
    "hash_algo": {"const": "blake3"},
    "artifacts": {
      "type": "array",
      "minItems": 2,
      "items": {
        "type": "object",
        "required": ["kind", "size", "blake3", "url"],
        "additionalProperties": false,
        "properties": {
          "kind": {"enum": ["binary", "source"]},
          "os": {"type": "string", "minLength": 1},
          "arch": {"type": "string", "minLength": 1},
          "size": {"type": "integer", "minimum": 0},
          "blake3": {"$ref": "#/$defs/hash"},
          "url": {"type": "string", "minLength": 1}
        }
      }
    },
    "src_index": {
      "type": "object",
      "required": ["path", "size", "blake3"],
      "additionalProperties": false,
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "size": {"type": "integer", "minimum": 0},
        "blake3": {"$ref": "#/$defs/hash"}
      }
    }
  },
  "$defs": {
    "hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
  }
}`

var manifestSchemaCompiled = jsonschema.MustCompileString("manifest.schema.json", manifestSchema)

// ParseManifest validates raw manifest bytes against the schema and the
// manifest invariants and requires the bytes to already be in canonical form,
// since the manifest hash is defined over exactly these bytes.
func ParseManifest(raw []byte) (*Manifest, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %v: %w", err, errdefs.ErrManifestInvalid)
	}
	if err := manifestSchemaCompiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest schema: %v: %w", err, errdefs.ErrManifestInvalid)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest decode: %v: %w", err, errdefs.ErrManifestInvalid)
	}
	if err := m.validateArtifacts(); err != nil {
		return nil, err
	}

	canon, err := canonical.Bytes(&m)
	if err != nil {
		return nil, fmt.Errorf("manifest canonicalize: %w", err)
	}
	if !bytes.Equal(canon, raw) {
		return nil, fmt.Errorf("manifest bytes are not canonical: %w", errdefs.ErrManifestInvalid)
	}
	return &m, nil
}

func (m *Manifest) validateArtifacts() error {
	sources := 0
	binaries := 0
	seen := make(map[[2]string]bool)
	for _, a := range m.Artifacts {
		switch a.Kind {
		case ArtifactSource:
			sources++
			if a.OS != "" || a.Arch != "" {
				return fmt.Errorf("source artifact must not carry os/arch: %w", errdefs.ErrManifestInvalid)
			}
		case ArtifactBinary:
			binaries++
			if a.OS == "" || a.Arch == "" {
				return fmt.Errorf("binary artifact requires os and arch: %w", errdefs.ErrManifestInvalid)
			}
			key := [2]string{a.OS, a.Arch}
			if seen[key] {
				return fmt.Errorf("duplicate binary artifact for %s/%s: %w", a.OS, a.Arch, errdefs.ErrManifestInvalid)
			}
			seen[key] = true
		default:
			return fmt.Errorf("artifact kind %q: %w", a.Kind, errdefs.ErrManifestInvalid)
		}
	}
	if sources != 1 {
		return fmt.Errorf("manifest requires exactly one source artifact, found %d: %w", sources, errdefs.ErrManifestInvalid)
	}
	if binaries == 0 {
		return fmt.Errorf("manifest requires at least one binary artifact: %w", errdefs.ErrManifestInvalid)
	}
	return nil
}

// SourceArtifact returns the single source artifact.
func (m *Manifest) SourceArtifact() *Artifact {
	for i := range m.Artifacts {
		if m.Artifacts[i].Kind == ArtifactSource {
			return &m.Artifacts[i]
		}
	}
	return nil
}

// BinaryArtifact returns the binary artifact for (os, arch), or nil.
func (m *Manifest) BinaryArtifact(os, arch string) *Artifact {
	for i := range m.Artifacts {
		a := &m.Artifacts[i]
		if a.Kind == ArtifactBinary && a.OS == os && a.Arch == arch {
			return a
		}
	}
	return nil
}

// BinaryArtifactHashes lists the blake3 digests of all binary artifacts in
// manifest order.
func (m *Manifest) BinaryArtifactHashes() []string {
	var hashes []string
	for _, a := range m.Artifacts {
		if a.Kind == ArtifactBinary {
			hashes = append(hashes, a.BLAKE3)
		}
	}
	return hashes
}
