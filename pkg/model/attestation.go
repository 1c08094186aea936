// Package model holds the Silexium data model: manifests, role payloads,
// attestations, log entries, signed tree heads and role keys.
package model

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// Role identifies who produced an attestation.
type Role string

const (
	RoleAuthor Role = "author"
	RoleTests  Role = "tests"
	RoleServer Role = "server"
)

// Roles lists the attestation roles in chain order: author first, then
// tests, then server.
var Roles = []Role{RoleAuthor, RoleTests, RoleServer}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAuthor, RoleTests, RoleServer:
		return Role(s), nil
	}
	return "", fmt.Errorf("role must be author, tests or server, got %q: %w", s, errdefs.ErrInvalidRequest)
}

// AuthorPayload is the author's statement over a manifest.
type AuthorPayload struct {
	SchemaVersion      int    `json:"schema_version"`
	Package            string `json:"package"`
	Version            string `json:"version"`
	Channel            string `json:"channel"`
	ManifestHash       string `json:"manifest_hash"`
	SrcIndexHash       string `json:"src_index_hash"`
	SourceArtifactHash string `json:"source_artifact_hash"`
	License            string `json:"license"`
}

// Test result values admitted in a tests payload.
const (
	TestResultPass = "pass"
	TestResultFail = "fail"
)

// TestsPayload binds a test run to the author attestation it covers.
type TestsPayload struct {
	SchemaVersion         int    `json:"schema_version"`
	AuthorAttestationHash string `json:"author_attestation_hash"`
	ManifestHash          string `json:"manifest_hash"`
	TestSuiteID           string `json:"test_suite_id"`
	TestResult            string `json:"test_result"`
	TestReportHash        string `json:"test_report_hash,omitempty"`
}

// ServerPayload closes the chain: it covers the author and tests
// attestations and every artifact the server will serve.
type ServerPayload struct {
	SchemaVersion         int      `json:"schema_version"`
	AuthorAttestationHash string   `json:"author_attestation_hash"`
	TestsAttestationHash  string   `json:"tests_attestation_hash"`
	ManifestHash          string   `json:"manifest_hash"`
	BinaryArtifactHashes  []string `json:"binary_artifact_hashes"`
	SourceArtifactHash    string   `json:"source_artifact_hash"`
}

// Attestation is a signed role statement plus its external timestamp proofs.
// Signature is the lowercase hex of a 64-byte Ed25519 signature over the
// ASCII bytes of PayloadHash.
type Attestation struct {
	Kind         Role
	KeyID        string
	PayloadHash  string
	PayloadBytes []byte
	Signature    string
	CreatedAt    string
	TSAProof     []byte
	OTSProof     []byte
}

// Hash returns the attestation's identity under the domain-separated recipe.
func (a *Attestation) Hash() string {
	return canonical.AttestationHash(
		string(a.Kind), a.KeyID, a.PayloadHash, a.Signature, a.CreatedAt,
		hex.EncodeToString(a.TSAProof), hex.EncodeToString(a.OTSProof),
	)
}

// CreatedTime parses the attestation timestamp.
func (a *Attestation) CreatedTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, a.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("attestation created_at %q is not RFC 3339: %w", a.CreatedAt, errdefs.ErrInvalidRequest)
	}
	return t, nil
}

// LogEntry is the quadruple of hashes admitted to the log at LeafIndex.
type LogEntry struct {
	LeafIndex    int64
	ManifestHash string
	AuthorHash   string
	TestsHash    string
	ServerHash   string
	AppendedAt   string
}

// Hash returns the leaf identity of the entry.
func (e *LogEntry) Hash() string {
	return canonical.EntryHash(e.ManifestHash, e.AuthorHash, e.TestsHash, e.ServerHash)
}

// STH is a signed tree head: an authenticated snapshot of the log.
type STH struct {
	TreeSize  uint64 `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	KeyID     string `json:"key_id"`
}

// Key is a registered role public key with its validity window.
type Key struct {
	Role      Role
	KeyID     string
	PublicKey []byte
	NotBefore time.Time
	NotAfter  time.Time
}

// ValidAt reports whether the key is valid at t: not_before <= t < not_after.
func (k *Key) ValidAt(t time.Time) bool {
	return !t.Before(k.NotBefore) && t.Before(k.NotAfter)
}
