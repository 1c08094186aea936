// Package canonical pins the byte-exact serialization and hashing scheme
// that third parties re-derive.
//
// Canonical form of a payload is RFC 8785 (JSON Canonicalization Scheme)
// applied to its JSON encoding: object keys sorted by UTF-16 code units,
// shortest-form number formatting, no insignificant whitespace, minimal
// string escaping. Two extra rules bind on top of JCS:
//
//   - every string field is Unicode-normalized to NFC before serialization;
//   - absent optional fields are omitted entirely, never encoded as null.
//
// Digests are 32-byte BLAKE3, rendered as lowercase hex on the wire.
// Attestation hashes, log-entry hashes and the STH payload do not go through
// JSON at all; they use the fixed newline-delimited recipes below, so they
// are unambiguous regardless of payload serialization.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"
)

// SumHex returns the lowercase hex BLAKE3-256 digest of raw bytes.
func SumHex(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Bytes returns the canonical byte form of v.
func Bytes(v any) ([]byte, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode intermediate: %w", err)
	}

	out, err := json.Marshal(normalizeNFC(generic))
	if err != nil {
		return nil, fmt.Errorf("canonical: re-marshal: %w", err)
	}
	canon, err := jcs.Transform(out)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return canon, nil
}

// HashOf returns the BLAKE3 hex digest of the canonical byte form of v.
func HashOf(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return SumHex(b), nil
}

// normalizeNFC rewrites every string value to Unicode NFC. Object keys are
// schema-fixed ASCII and left alone.
func normalizeNFC(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		for i := range t {
			t[i] = normalizeNFC(t[i])
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNFC(val)
		}
		return t
	default:
		return v
	}
}

// AttestationHash computes the identity of a stored attestation: BLAKE3 over
// the domain string and each field in order, every element followed by '\n'.
// All hash and signature inputs are their lowercase hex forms.
func AttestationHash(kind, keyID, payloadHash, signatureHex, createdAt, tsaProofHex, otsProofHex string) string {
	h := blake3.New(32, nil)
	h.Write([]byte("SILEXIUM-ATTESTATION\n"))
	for _, field := range []string{kind, keyID, payloadHash, signatureHex, createdAt, tsaProofHex, otsProofHex} {
		h.Write([]byte(field))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// EntryHash computes the leaf identity of a log entry from the manifest hash
// and the three attestation hashes, all lowercase hex.
func EntryHash(manifestHash, authorHash, testsHash, serverHash string) string {
	h := blake3.New(32, nil)
	h.Write([]byte("SILEXIUM-LOG-ENTRY\n"))
	h.Write([]byte("manifest:" + manifestHash + "\n"))
	h.Write([]byte("author:" + authorHash + "\n"))
	h.Write([]byte("tests:" + testsHash + "\n"))
	h.Write([]byte("server:" + serverHash + "\n"))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// STHPayload renders the exact bytes the server key signs for a tree head.
func STHPayload(treeSize uint64, rootHashHex, timestamp string) []byte {
	return []byte("SILEXIUM-STH\n" + strconv.FormatUint(treeSize, 10) + "\n" + rootHashHex + "\n" + timestamp + "\n")
}
