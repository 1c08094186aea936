package merkle

import (
	"fmt"
	"math/bits"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// VerifyInclusion folds the audit path over leaf_hash(leaf) and checks the
// result against root. index and size describe the position of the leaf and
// the tree the proof was produced against.
//
// The path splits into an inner part, where the leaf's path and the last
// leaf's path share levels, and a border part above that, where every proof
// element is a left sibling. A leaf on the right edge is promoted through
// levels where it has no sibling, so naive halving of (index, size) would
// miscount the path length there; the shape computation accounts for it.
func VerifyInclusion(leaf Hash, proof []Hash, index, size int, root Hash) error {
	if size <= 0 || index < 0 || index >= size {
		return fmt.Errorf("inclusion index %d in tree of %d: %w", index, size, errdefs.ErrInvalidTreeSizes)
	}
	inner, border := proofShape(uint64(index), uint64(size))
	if len(proof) != inner+border {
		return fmt.Errorf("inclusion proof has %d elements, want %d: %w",
			len(proof), inner+border, errdefs.ErrInvalidTreeSizes)
	}
	computed := chainBorderRight(chainInner(LeafHash(leaf), proof[:inner], uint64(index)), proof[inner:])
	if computed != root {
		return fmt.Errorf("inclusion proof does not reproduce root")
	}
	return nil
}

// VerifyConsistency checks that the tree with oldRoot at oldSize is a prefix
// of the tree with newRoot at newSize, per RFC 6962 §2.1.4.2.
func VerifyConsistency(oldSize, newSize int, proof []Hash, oldRoot, newRoot Hash) error {
	if oldSize <= 0 || oldSize > newSize {
		return fmt.Errorf("consistency %d -> %d: %w", oldSize, newSize, errdefs.ErrInvalidTreeSizes)
	}
	if oldSize == newSize {
		if len(proof) != 0 {
			return fmt.Errorf("nonempty proof for equal sizes: %w", errdefs.ErrInvalidTreeSizes)
		}
		if oldRoot != newRoot {
			return fmt.Errorf("consistency roots differ at equal size")
		}
		return nil
	}

	old := uint64(oldSize)
	shift := bits.TrailingZeros64(old)
	inner, border := proofShape(old-1, uint64(newSize))
	inner -= shift

	// When the old size is a power of two, the old root itself is a node of
	// the new tree and the proof starts from it; otherwise the first proof
	// element seeds both recomputations.
	seed, start := oldRoot, 0
	if old != 1<<uint(shift) {
		if len(proof) == 0 {
			return fmt.Errorf("empty consistency proof: %w", errdefs.ErrInvalidTreeSizes)
		}
		seed, start = proof[0], 1
	}
	if len(proof) != start+inner+border {
		return fmt.Errorf("consistency proof has %d elements, want %d: %w", len(proof), start+inner+border, errdefs.ErrInvalidTreeSizes)
	}
	path := proof[start:]
	mask := (old - 1) >> uint(shift)

	recomputedOld := chainBorderRight(chainInnerRight(seed, path[:inner], mask), path[inner:])
	if recomputedOld != oldRoot {
		return fmt.Errorf("consistency proof does not reproduce old root")
	}
	recomputedNew := chainBorderRight(chainInner(seed, path[:inner], mask), path[inner:])
	if recomputedNew != newRoot {
		return fmt.Errorf("consistency proof does not reproduce new root")
	}
	return nil
}

// proofShape splits a proof for the node at index in a tree of size into the
// length of its inner part (below the node where the last leaf's path joins)
// and its border part.
func proofShape(index, size uint64) (inner, border int) {
	inner = bits.Len64(index ^ (size - 1))
	border = bits.OnesCount64(index >> uint(inner))
	return inner, border
}

func chainInner(seed Hash, proof []Hash, index uint64) Hash {
	for i, h := range proof {
		if (index>>uint(i))&1 == 0 {
			seed = NodeHash(seed, h)
		} else {
			seed = NodeHash(h, seed)
		}
	}
	return seed
}

func chainInnerRight(seed Hash, proof []Hash, index uint64) Hash {
	for i, h := range proof {
		if (index>>uint(i))&1 == 1 {
			seed = NodeHash(h, seed)
		}
	}
	return seed
}

func chainBorderRight(seed Hash, proof []Hash) Hash {
	for _, h := range proof {
		seed = NodeHash(h, seed)
	}
	return seed
}
