package mutation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetIsLogarithmic(t *testing.T) {
	assert.Equal(t, 1, Budget(0))
	assert.Equal(t, 1, Budget(1))
	assert.Equal(t, 2, Budget(2))
	assert.Equal(t, 2, Budget(3))
	assert.Equal(t, 3, Budget(4))
	assert.Equal(t, 4, Budget(8))
}

func TestMutateLinearChangesLengthNever(t *testing.T) {
	e := NewEngine(rand.New(rand.NewSource(1)))
	parent := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	child := e.MutateLinear(parent)
	assert.Len(t, child, len(parent))
}

func TestMutateLinearDoesNotAliasParent(t *testing.T) {
	e := NewEngine(rand.New(rand.NewSource(1)))
	parent := []byte{1, 2, 3, 4}
	original := append([]byte(nil), parent...)
	e.MutateLinear(parent)
	assert.Equal(t, original, parent, "mutation must not modify the parent in place")
}

func TestMutateSplitValueOnlyPreservesStructure(t *testing.T) {
	// spec.md §8 scenario S4.
	e := NewEngine(rand.New(rand.NewSource(7)))
	parentStruct := []byte{3} // e.g. encodes "3-element list"
	parentValue := []byte{1, 2, 3}

	childStruct, childValue := e.MutateSplitValueOnly(parentStruct, parentValue)

	assert.Equal(t, parentStruct, childStruct, "structure stream must be untouched")
	require.Len(t, childValue, len(parentValue))
}

func TestMutateSplitRespectsAllWeightToStructure(t *testing.T) {
	e := NewEngine(rand.New(rand.NewSource(3)))
	e.StructWeight = 1.0 // every mutation targets structure
	parentStruct := []byte{1, 2, 3, 4}
	parentValue := []byte{9, 9, 9, 9}

	_, childValue := e.MutateSplit(parentStruct, parentValue)
	assert.Equal(t, parentValue, childValue, "value stream must be untouched when StructWeight=1")
}

func TestMutateSplitHandlesEmptyStreams(t *testing.T) {
	e := NewEngine(rand.New(rand.NewSource(1)))
	childStruct, childValue := e.MutateSplit(nil, []byte{1, 2, 3})
	assert.Empty(t, childStruct)
	assert.Len(t, childValue, 3)
}
