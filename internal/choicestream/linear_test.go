package choicestream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearFixedSizeEOF(t *testing.T) {
	l := NewLinear([]byte{1, 2, 3}, true, nil)

	for _, want := range []byte{1, 2, 3} {
		b, ok := l.ReadByte()
		require.True(t, ok)
		assert.Equal(t, want, b)
	}

	_, ok := l.ReadByte()
	assert.False(t, ok, "fixed-size stream must EOF once exhausted")
}

func TestLinearExtensionGrowsBytes(t *testing.T) {
	src := RandSource{Rng: rand.New(rand.NewSource(1))}
	l := NewLinear([]byte{0xAA}, false, src)

	b1, ok := l.ReadByte()
	require.True(t, ok)
	assert.Equal(t, byte(0xAA), b1)

	// Past the seed content, extension must succeed (never EOF) and the
	// concrete vector must record what was generated.
	for i := 0; i < 5; i++ {
		_, ok := l.ReadByte()
		require.True(t, ok)
	}
	assert.Len(t, l.Bytes(), 6)
}

func TestLinearDeterministicUnderFixedSeed(t *testing.T) {
	run := func() []byte {
		src := RandSource{Rng: rand.New(rand.NewSource(42))}
		l := NewLinear(nil, false, src)
		for i := 0; i < 10; i++ {
			l.ReadByte()
		}
		return l.Bytes()
	}

	assert.Equal(t, run(), run())
}

func TestLinearDoesNotMutateCallerBuffer(t *testing.T) {
	original := []byte{1, 2, 3}
	l := NewLinear(original, true, nil)
	l.ReadByte()
	out := l.Bytes()
	out[0] = 0xFF
	assert.Equal(t, byte(1), original[0])
	b, _ := l.ReadByte()
	assert.Equal(t, byte(2), b)
}
