package merkle

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

func leafData(n int) []Hash {
	leaves := make([]Hash, n)
	for i := range leaves {
		leaves[i] = blake3.Sum256([]byte{byte(i), byte(i >> 8)})
	}
	return leaves
}

func TestEmptyRoot(t *testing.T) {
	assert.Equal(t,
		"af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
		MTH(nil).String(),
	)
}

func TestSingleLeafRoot(t *testing.T) {
	leaves := leafData(1)
	assert.Equal(t, LeafHash(leaves[0]), MTH(leaves))
}

func TestDecodeHash(t *testing.T) {
	h := blake3.Sum256([]byte("x"))
	decoded, err := DecodeHash(Hash(h).String())
	require.NoError(t, err)
	assert.Equal(t, Hash(h), decoded)

	_, err = DecodeHash("zz")
	assert.Error(t, err)
	_, err = DecodeHash("abcd")
	assert.Error(t, err)
}

type treePosition struct {
	n     int
	index int
}

// genTreePosition draws a tree size and then an index uniformly in [0, n),
// so every position, the right edge included, is exercised.
func genTreePosition(maxSize int) gopter.Gen {
	return gen.IntRange(1, maxSize).FlatMap(func(v interface{}) gopter.Gen {
		n := v.(int)
		return gen.IntRange(0, n-1).Map(func(index int) treePosition {
			return treePosition{n: n, index: index}
		})
	}, reflect.TypeOf(treePosition{}))
}

func TestInclusionRoundtripProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)
	properties.Property("inclusion proof verifies for every index", prop.ForAll(
		func(pos treePosition) bool {
			leaves := leafData(pos.n)
			proof, err := InclusionProof(leaves, pos.index)
			if err != nil {
				return false
			}
			return VerifyInclusion(leaves[pos.index], proof, pos.index, pos.n, MTH(leaves)) == nil
		},
		genTreePosition(256),
	))
	properties.TestingRun(t)
}

func TestInclusionAtRightEdge(t *testing.T) {
	// Positions whose path crosses a node promotion: the leaf is last in the
	// tree at an even index somewhere on the way up.
	cases := []treePosition{
		{n: 3, index: 2},
		{n: 5, index: 4},
		{n: 6, index: 4},
		{n: 7, index: 6},
		{n: 11, index: 10},
	}
	for _, tc := range cases {
		leaves := leafData(tc.n)
		proof, err := InclusionProof(leaves, tc.index)
		require.NoError(t, err)
		assert.NoError(t,
			VerifyInclusion(leaves[tc.index], proof, tc.index, tc.n, MTH(leaves)),
			"index %d in tree of %d", tc.index, tc.n)
	}
}

func TestInclusionRejectsWrongLeaf(t *testing.T) {
	leaves := leafData(8)
	proof, err := InclusionProof(leaves, 3)
	require.NoError(t, err)

	wrong := blake3.Sum256([]byte("other"))
	assert.Error(t, VerifyInclusion(wrong, proof, 3, 8, MTH(leaves)))
	assert.Error(t, VerifyInclusion(leaves[3], proof, 4, 8, MTH(leaves)))
	assert.Error(t, VerifyInclusion(leaves[3], proof[:len(proof)-1], 3, 8, MTH(leaves)))
	assert.Error(t, VerifyInclusion(leaves[3], append(proof, MTH(leaves)), 3, 8, MTH(leaves)))
}

func TestInclusionIndexOutOfRange(t *testing.T) {
	leaves := leafData(4)
	_, err := InclusionProof(leaves, 4)
	assert.Error(t, err)
	_, err = InclusionProof(leaves, -1)
	assert.Error(t, err)
}

func TestConsistencyProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)
	properties.Property("consistency proof verifies for every prefix", prop.ForAll(
		func(n int, seed int) bool {
			leaves := leafData(n)
			old := 1 + seed%n
			proof, err := ConsistencyProof(leaves, old, n)
			if err != nil {
				return false
			}
			return VerifyConsistency(old, n, proof, MTH(leaves[:old]), MTH(leaves)) == nil
		},
		gen.IntRange(1, 256),
		gen.IntRange(0, 1<<30),
	))
	properties.TestingRun(t)
}

func TestConsistencyTransitivity(t *testing.T) {
	leaves := leafData(11)
	sizes := []int{3, 7, 11}
	roots := make(map[int]Hash)
	for _, n := range sizes {
		roots[n] = MTH(leaves[:n])
	}
	for i, oldSize := range sizes {
		for _, newSize := range sizes[i:] {
			proof, err := ConsistencyProof(leaves, oldSize, newSize)
			require.NoError(t, err)
			assert.NoError(t,
				VerifyConsistency(oldSize, newSize, proof, roots[oldSize], roots[newSize]),
				"consistency %d -> %d", oldSize, newSize)
		}
	}
}

func TestConsistencyEqualSizesIsEmpty(t *testing.T) {
	leaves := leafData(6)
	proof, err := ConsistencyProof(leaves, 6, 6)
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.NoError(t, VerifyConsistency(6, 6, nil, MTH(leaves), MTH(leaves)))
}

func TestConsistencyInvalidSizes(t *testing.T) {
	leaves := leafData(4)
	_, err := ConsistencyProof(leaves, 0, 4)
	assert.Error(t, err)
	_, err = ConsistencyProof(leaves, 5, 4)
	assert.Error(t, err)
	assert.Error(t, VerifyConsistency(5, 4, nil, Hash{}, Hash{}))
	assert.Error(t, VerifyConsistency(0, 4, nil, Hash{}, Hash{}))
}

func TestConsistencyRejectsForkedRoot(t *testing.T) {
	leaves := leafData(8)
	proof, err := ConsistencyProof(leaves, 3, 8)
	require.NoError(t, err)

	forked := blake3.Sum256([]byte("forked"))
	assert.Error(t, VerifyConsistency(3, 8, proof, forked, MTH(leaves)))
	assert.Error(t, VerifyConsistency(3, 8, proof, MTH(leaves[:3]), forked))
}
