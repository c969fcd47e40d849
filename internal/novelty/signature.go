// Package novelty implements the Coverage Signature and Novelty Filter
// (spec.md §3 "Coverage Signature", §4.3).
package novelty

import "github.com/hemipt-dev/hemipt/internal/covmap"

// Signature is a bucketed summary of a run's Coverage Map: the set of
// (branch_id, bucket) pairs for every non-zero counter.
type Signature map[uint32]uint8

// BucketOf maps a raw hit count into one of the eight power-of-two ranges
// {1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+} from spec.md §3.
func BucketOf(count uint32) uint8 {
	switch {
	case count == 0:
		return 0
	case count == 1:
		return 0
	case count == 2:
		return 1
	case count == 3:
		return 2
	case count <= 7:
		return 3
	case count <= 15:
		return 4
	case count <= 31:
		return 5
	case count <= 127:
		return 6
	default:
		return 7
	}
}

// Of builds the Signature for a run's Coverage Map.
func Of(m *covmap.Map) Signature {
	sig := make(Signature, len(m.NonZeroIndices()))
	for _, id := range m.NonZeroIndices() {
		sig[id] = BucketOf(m.ValueAt(id))
	}
	return sig
}

// Subset reports whether sig is a subset of other: every (branch, bucket)
// pair in sig also appears in other with a bucket >= sig's.
func (sig Signature) Subset(other Signature) bool {
	for branch, bucket := range sig {
		ob, ok := other[branch]
		if !ok || ob < bucket {
			return false
		}
	}
	return true
}

// Equal reports whether two signatures cover exactly the same
// (branch, bucket) pairs.
func (sig Signature) Equal(other Signature) bool {
	if len(sig) != len(other) {
		return false
	}
	for branch, bucket := range sig {
		if ob, ok := other[branch]; !ok || ob != bucket {
			return false
		}
	}
	return true
}
