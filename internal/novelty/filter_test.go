package novelty

import (
	"testing"

	"github.com/hemipt-dev/hemipt/internal/covmap"
	"github.com/stretchr/testify/assert"
)

func TestNewBranchWhenCumulativeIsZero(t *testing.T) {
	f := NewFilter(false, false)
	cumulative := covmap.New()

	trial := covmap.New()
	trial.Increment(1)

	assert.Equal(t, NewBranch, f.Classify(trial, cumulative))
}

func TestNewBucketWhenExceedingSavedCeiling(t *testing.T) {
	f := NewFilter(false, false)
	cumulative := covmap.New()
	cumulative.Increment(1) // branch 1 already seen once, so not NEW_BRANCH

	// Admit a signature at bucket 0 (count==1) for branch 1.
	f.Admit(Signature{1: BucketOf(1)})

	trial := covmap.New()
	for i := 0; i < 5; i++ {
		trial.Increment(1) // count=5 -> bucket 3, exceeds ceiling bucket 0
	}

	assert.Equal(t, NewBucket, f.Classify(trial, cumulative))
}

func TestRedundantWhenNoImprovement(t *testing.T) {
	f := NewFilter(false, false)
	cumulative := covmap.New()
	cumulative.Increment(1)

	f.Admit(Signature{1: BucketOf(1)})

	trial := covmap.New()
	trial.Increment(1) // same bucket as ceiling

	assert.Equal(t, Redundant, f.Classify(trial, cumulative))
}

func TestBlindAlwaysReportsNewBranch(t *testing.T) {
	f := NewFilter(false, true)
	cumulative := covmap.New()
	cumulative.Increment(1)
	f.Admit(Signature{1: BucketOf(1)})

	trial := covmap.New()
	trial.Increment(1) // same bucket as ceiling; would be REDUNDANT if not blind

	assert.Equal(t, NewBranch, f.Classify(trial, cumulative))
	assert.True(t, f.Blind())
}

func TestSignatureSubsetAndEqual(t *testing.T) {
	a := Signature{1: 0, 2: 1}
	b := Signature{1: 0, 2: 2, 3: 0}

	assert.True(t, a.Subset(b))
	assert.False(t, b.Subset(a))
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(Signature{1: 0, 2: 1}))
}

func TestBucketBoundaries(t *testing.T) {
	cases := map[uint32]uint8{
		1: 0, 2: 1, 3: 2, 4: 3, 7: 3, 8: 4, 15: 4,
		16: 5, 31: 5, 32: 6, 127: 6, 128: 7, 1000: 7,
	}
	for count, want := range cases {
		assert.Equal(t, want, BucketOf(count), "count=%d", count)
	}
}
