// Package merkle implements RFC 6962 tree semantics over 32-byte BLAKE3
// leaves: tree head computation, inclusion proofs and consistency proofs,
// plus the matching verifiers.
//
// All functions are pure over leaf slices and index arithmetic; locking and
// persistence live in pkg/translog.
package merkle

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// Hash is a raw 32-byte BLAKE3 digest.
type Hash [32]byte

// String renders the digest as lowercase hex, the wire form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// DecodeHash parses a lowercase hex digest into a Hash.
func DecodeHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("merkle: invalid hash hex: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("merkle: invalid hash length %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// LeafHash computes BLAKE3(0x00 || x).
func LeafHash(x Hash) Hash {
	h := blake3.New(32, nil)
	h.Write([]byte{0x00})
	h.Write(x[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// NodeHash computes BLAKE3(0x01 || left || right).
func NodeHash(left, right Hash) Hash {
	h := blake3.New(32, nil)
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// MTH computes the Merkle tree hash of the leaf sequence. The empty tree
// hashes to BLAKE3 of the empty string.
func MTH(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return blake3.Sum256(nil)
	}
	if len(leaves) == 1 {
		return LeafHash(leaves[0])
	}
	k := split(len(leaves))
	return NodeHash(MTH(leaves[:k]), MTH(leaves[k:]))
}

// InclusionProof returns the audit path for the leaf at index in a tree over
// the given leaves.
func InclusionProof(leaves []Hash, index int) ([]Hash, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range for %d leaves: %w", index, len(leaves), errdefs.ErrInvalidTreeSizes)
	}
	return inclusionProof(leaves, index), nil
}

func inclusionProof(leaves []Hash, index int) []Hash {
	if len(leaves) <= 1 {
		return nil
	}
	k := split(len(leaves))
	if index < k {
		return append(inclusionProof(leaves[:k], index), MTH(leaves[k:]))
	}
	return append(inclusionProof(leaves[k:], index-k), MTH(leaves[:k]))
}

// ConsistencyProof proves that the tree of oldSize is a prefix of the tree of
// newSize. The proof is empty iff the sizes are equal.
func ConsistencyProof(leaves []Hash, oldSize, newSize int) ([]Hash, error) {
	if oldSize == 0 || oldSize > newSize || newSize > len(leaves) {
		return nil, fmt.Errorf("consistency %d -> %d over %d leaves: %w", oldSize, newSize, len(leaves), errdefs.ErrInvalidTreeSizes)
	}
	return consistencyProof(leaves[:newSize], oldSize, true), nil
}

// consistencyProof is SUBPROOF(m, D[n], b) from RFC 6962 §2.1.2. complete
// records whether the old subtree is a complete subtree of the current one.
func consistencyProof(leaves []Hash, oldSize int, complete bool) []Hash {
	if oldSize == len(leaves) {
		if complete {
			return nil
		}
		return []Hash{MTH(leaves)}
	}
	k := split(len(leaves))
	if oldSize <= k {
		return append(consistencyProof(leaves[:k], oldSize, complete), MTH(leaves[k:]))
	}
	return append(consistencyProof(leaves[k:], oldSize-k, false), MTH(leaves[:k]))
}

// split returns the largest power of two strictly less than n. n must be > 1.
func split(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}
