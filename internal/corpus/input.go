// Package corpus implements the Saved-Input Corpus and Favorites Map
// (spec.md §3, §4.5).
package corpus

import (
	"github.com/hemipt-dev/hemipt/internal/choicestream"
	"github.com/hemipt-dev/hemipt/internal/novelty"
)

// CreationOutcome classifies how an Input came to exist (spec.md §3).
type CreationOutcome int

const (
	Seed CreationOutcome = iota
	Favored
	Random
)

func (c CreationOutcome) String() string {
	switch c {
	case Seed:
		return "seed"
	case Favored:
		return "favored"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// Input is an ordered sequence of bytes (or, in split mode, a parallel
// structure/value pair plus access log) together with its admission
// bookkeeping (spec.md §3).
//
// Every field here is set once at admission time and never mutated
// afterwards, EXCEPT FavoredBranches: that field is a convenience mirror
// of the Corpus-owned Favorites Map (see Corpus.Admit) and is updated by
// the Corpus whenever a newer input strictly dominates this one for some
// branch. The underlying bytes, signature, and accounting fields are
// immutable per spec.md §3 ("Immutable after admission").
type Input struct {
	ID       uint64
	ParentID *uint64

	CreationOutcome CreationOutcome
	Signature       novelty.Signature

	// FavoredBranches is the set of branch ids for which this input is
	// currently the cover-set representative. Mutable; see doc comment
	// above.
	FavoredBranches map[uint32]struct{}

	ExecutionTimeNs int64
	MutationCount   int

	Split bool

	// Linear-mode payload.
	Bytes []byte

	// Split-mode payload.
	StructureBytes []byte
	ValueBytes     []byte
	AccessLog      []choicestream.AccessEntry
}

// Size is the byte-size used for Favorites Map tie-breaking (spec.md
// §4.3 "Tie-break ... uses input size first").
func (in *Input) Size() int {
	if in.Split {
		return len(in.StructureBytes) + len(in.ValueBytes)
	}
	return len(in.Bytes)
}

// dominates reports whether candidate strictly beats incumbent under the
// (size, execution_time) tie-break order (spec.md §4.3/§8 property 2).
func dominates(candidate, incumbent *Input) bool {
	cs, is := candidate.Size(), incumbent.Size()
	if cs != is {
		return cs < is
	}
	return candidate.ExecutionTimeNs < incumbent.ExecutionTimeNs
}
