package resolve

import "github.com/silexium-dev/silexium/pkg/model"

// KnownSTH is the tree head a client already trusts. When supplied with a
// size below the current tree, the response carries a consistency proof from
// it to the current head.
type KnownSTH struct {
	TreeSize uint64 `json:"tree_size"`
	RootHash string `json:"root_hash"`
}

// InstallRequest asks for a specific or the latest release of a package.
type InstallRequest struct {
	Package  string    `json:"package"`
	OS       string    `json:"os"`
	Arch     string    `json:"arch"`
	Version  string    `json:"version,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	KnownSTH *KnownSTH `json:"known_sth,omitempty"`
}

// UpdateRequest asks whether current_version is the latest in the channel.
type UpdateRequest struct {
	Package        string    `json:"package"`
	OS             string    `json:"os"`
	Arch           string    `json:"arch"`
	CurrentVersion string    `json:"current_version"`
	Channel        string    `json:"channel,omitempty"`
	KnownSTH       *KnownSTH `json:"known_sth,omitempty"`
}

// ManifestOut carries the manifest's exact canonical bytes so clients can
// re-derive its hash.
type ManifestOut struct {
	BytesHex string `json:"bytes_hex"`
	BLAKE3   string `json:"blake3"`
}

// AttestationOut is one attestation with its proof blobs in hex.
type AttestationOut struct {
	Kind        string `json:"kind"`
	KeyID       string `json:"key_id"`
	PayloadHash string `json:"payload_hash"`
	Signature   string `json:"signature"`
	CreatedAt   string `json:"created_at"`
	TSAProofHex string `json:"tsa_proof_hex"`
	OTSProofHex string `json:"ots_proof_hex"`
}

// LogProof is the verifiable evidence block of a response.
type LogProof struct {
	TreeSize    uint64    `json:"tree_size"`
	LeafIndex   uint64    `json:"leaf_index"`
	EntryHash   string    `json:"entry_hash"`
	LeafHash    string    `json:"leaf_hash"`
	Inclusion   []string  `json:"inclusion"`
	Consistency []string  `json:"consistency,omitempty"`
	STH         model.STH `json:"sth"`
}

// Response answers both install and update queries.
type Response struct {
	Package      string           `json:"package"`
	Version      string           `json:"version"`
	Channel      string           `json:"channel"`
	OS           string           `json:"os"`
	Arch         string           `json:"arch"`
	UpToDate     bool             `json:"up_to_date"`
	Manifest     ManifestOut      `json:"manifest"`
	Artifacts    []model.Artifact `json:"artifacts"`
	Attestations []AttestationOut `json:"attestations"`
	Log          LogProof         `json:"log"`
}
