package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemipt-dev/hemipt/internal/corpus"
	"github.com/hemipt-dev/hemipt/internal/mutation"
	"github.com/hemipt-dev/hemipt/internal/novelty"
)

func TestSchedulerStartsSeedingThenExploits(t *testing.T) {
	seeds := []Seed{{Name: "a", Data: []byte{1, 2}}, {Name: "b", Data: []byte{3}}}
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	mut := mutation.NewEngine(rng)
	s := New(seeds, c, mut, rng, false)

	assert.Equal(t, Seeding, s.State())

	cand1 := s.Next()
	assert.Equal(t, corpus.Seed, cand1.Input.CreationOutcome)
	assert.Equal(t, []byte{1, 2}, cand1.Payload)
	assert.Equal(t, Seeding, s.State())

	cand2 := s.Next()
	assert.Equal(t, corpus.Seed, cand2.Input.CreationOutcome)
	assert.Equal(t, []byte{3}, cand2.Payload)
	assert.Equal(t, Exploiting, s.State())
}

func TestSchedulerNoSeedsStartsExploiting(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	mut := mutation.NewEngine(rng)
	s := New(nil, c, mut, rng, false)
	assert.Equal(t, Exploiting, s.State())
}

func TestSchedulerExploitingMutatesFavoredParent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	parent := &corpus.Input{Bytes: []byte{9, 9}, Signature: novelty.Signature{1: 0}}
	c.Admit(parent)

	mut := mutation.NewEngine(rng)
	s := New(nil, c, mut, rng, false)

	cand := s.Next()
	require.NotNil(t, cand.Input.ParentID)
	assert.Equal(t, parent.ID, *cand.Input.ParentID)
	assert.Equal(t, corpus.Favored, cand.Input.CreationOutcome)
}

func TestSchedulerEmptyCorpusFallsBackToRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	mut := mutation.NewEngine(rng)
	s := New(nil, c, mut, rng, false)

	cand := s.Next()
	assert.Equal(t, corpus.Random, cand.Input.CreationOutcome)
	assert.Nil(t, cand.Input.ParentID)
}

func TestSchedulerFixedSizeDisablesStreamExtension(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	parent := &corpus.Input{Bytes: []byte{9}, Signature: novelty.Signature{1: 0}}
	c.Admit(parent)

	mut := mutation.NewEngine(rng)
	s := New(nil, c, mut, rng, false)
	s.FixedSize = true

	cand := s.Next()
	before := len(cand.Payload)
	for i := 0; i < before+5; i++ {
		cand.Stream.ReadByte()
	}
	assert.Equal(t, before, len(cand.Stream.Bytes()), "fixed-size stream must not extend past its original bytes")
}

func TestSchedulerSplitModeProducesTwoStreams(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	parent := &corpus.Input{
		Split:          true,
		StructureBytes: []byte{1},
		ValueBytes:     []byte{2, 3},
		Signature:      novelty.Signature{1: 0},
	}
	c.Admit(parent)

	mut := mutation.NewEngine(rng)
	s := New(nil, c, mut, rng, true)

	cand := s.Next()
	assert.True(t, cand.Input.Split)
	assert.NotEmpty(t, cand.Input.StructureBytes)
	assert.NotEmpty(t, cand.Input.ValueBytes)
}
