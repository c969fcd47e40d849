// Package scheduler implements the per-trial state machine (spec.md
// §4.7): seed iteration, exploitation via select_parent + mutation, and
// the occasional fully-random input.
package scheduler

import (
	"math/rand"

	"github.com/hemipt-dev/hemipt/internal/choicestream"
	"github.com/hemipt-dev/hemipt/internal/corpus"
	"github.com/hemipt-dev/hemipt/internal/mutation"
)

// State is the scheduler's current phase (spec.md §4.7: "SEEDING ->
// EXPLOITING <-> REPLAYING_SEED").
type State int

const (
	Seeding State = iota
	Exploiting
	ReplayingSeed
)

func (s State) String() string {
	switch s {
	case Seeding:
		return "SEEDING"
	case Exploiting:
		return "EXPLOITING"
	case ReplayingSeed:
		return "REPLAYING_SEED"
	default:
		return "UNKNOWN"
	}
}

// DefaultRandomInputEvery is the baseline trial interval for emitting a
// fully-random input with no parent (spec.md §4.7: "default every Nth
// trial where N scales with corpus size"). The effective N is this base
// plus the current corpus size, so a larger corpus triggers random
// injections less often relative to exploitation of what's already
// known.
const DefaultRandomInputEvery = 50

// Seed is one user-supplied seed file's raw content, already read from
// `in/` by the caller (spec.md §4.7 "iterate user-supplied seed files in
// in/").
type Seed struct {
	Name string
	Data []byte
}

// Scheduler drives State and produces the next candidate choicestream.Stream
// for the Trial Runner to execute, per spec.md §4.7.
//
// Whether a SEEDING-phase Input's favored status later causes it to be
// replayed unmutated (the ReplayingSeed state) is not pinned down
// precisely by spec.md's "EXPLOITING <-> REPLAYING_SEED" note; we resolve
// it here as: whenever select_parent's result has CreationOutcome==Seed,
// the scheduler spends its very next trial re-running that seed's exact
// bytes (zero mutation) before resuming normal exploitation, keeping
// seed inputs continuously re-validated against an evolving cumulative
// map rather than only ever executing them once during SEEDING (recorded
// as an Open Question decision in DESIGN.md).
type Scheduler struct {
	state State

	seeds   []Seed
	seedPos int

	corpus *corpus.Corpus
	mut    *mutation.Engine
	rng    *rand.Rand

	// Split selects the choicestream/mutation mode: split streams back
	// the bedivfuzz engine, linear streams back zest/zeal.
	Split bool

	// FixedSize disables stream extension (spec.md §6 `fixedSize`):
	// a Choice Stream that runs out of bytes returns EOF instead of
	// drawing fresh random bytes to extend itself.
	FixedSize bool

	PRandom          float64
	RandomInputEvery int

	trialCount int

	pendingReplay *corpus.Input
}

// New builds a Scheduler. If seeds is empty, the scheduler starts
// directly in Exploiting (spec.md §4.7 "After seeds exhausted or if none
// supplied, transition to EXPLOITING").
func New(seeds []Seed, c *corpus.Corpus, mut *mutation.Engine, rng *rand.Rand, split bool) *Scheduler {
	s := &Scheduler{
		seeds:            seeds,
		corpus:           c,
		mut:              mut,
		rng:              rng,
		Split:            split,
		PRandom:          corpus.DefaultPRandom,
		RandomInputEvery: DefaultRandomInputEvery,
	}
	if len(seeds) == 0 {
		s.state = Exploiting
	} else {
		s.state = Seeding
	}
	return s
}

// State returns the scheduler's current phase.
func (s *Scheduler) State() State { return s.state }

// Candidate is one scheduled trial: the Input metadata to pass to
// trial.Runner.Run plus the concrete byte payload the harness consumes.
type Candidate struct {
	Input   *corpus.Input
	Payload []byte
	// Stream is kept alive so that, after the harness runs, the caller
	// can read back the concrete (possibly extended) bytes and access log
	// via Bytes()/AccessLog() for split mode.
	Stream choicestream.Stream
}

// Next produces the next trial's Candidate, advancing the state machine.
func (s *Scheduler) Next() Candidate {
	s.trialCount++

	if s.state == Seeding {
		return s.nextSeed()
	}

	if s.pendingReplay != nil {
		replay := s.pendingReplay
		s.pendingReplay = nil
		s.state = Exploiting
		return s.replayCandidate(replay)
	}

	if s.RandomInputEvery > 0 {
		effectiveN := s.RandomInputEvery + s.corpus.Len()
		if s.trialCount%effectiveN == 0 {
			return s.nextRandom()
		}
	}

	return s.nextMutant()
}

func (s *Scheduler) nextSeed() Candidate {
	seed := s.seeds[s.seedPos]
	s.seedPos++
	if s.seedPos >= len(s.seeds) {
		s.state = Exploiting
	}

	in := &corpus.Input{
		CreationOutcome: corpus.Seed,
		Split:           s.Split,
	}
	return s.buildCandidate(in, seed.Data, seed.Data)
}

func (s *Scheduler) nextRandom() Candidate {
	in := &corpus.Input{CreationOutcome: corpus.Random, Split: s.Split}
	return s.buildCandidate(in, nil, nil)
}

func (s *Scheduler) nextMutant() Candidate {
	parent := s.corpus.SelectParent(s.rng, s.PRandom)
	if parent == nil {
		return s.nextRandom()
	}

	if parent.CreationOutcome == corpus.Seed {
		s.pendingReplay = parent
		s.state = ReplayingSeed
	}

	id := parent.ID
	in := &corpus.Input{
		ParentID:        &id,
		CreationOutcome: corpus.Favored,
		Split:           s.Split,
		MutationCount:   parent.MutationCount + 1,
	}

	if s.Split {
		structure, value := s.mut.MutateSplit(parent.StructureBytes, parent.ValueBytes)
		return s.buildCandidate(in, structure, value)
	}
	child := s.mut.MutateLinear(parent.Bytes)
	return s.buildCandidate(in, child, nil)
}

// replayCandidate rebuilds parent's exact bytes with no mutation, so
// that ReplayingSeed re-executes byte-for-byte what was admitted, against
// whatever the cumulative map has grown into since.
func (s *Scheduler) replayCandidate(parent *corpus.Input) Candidate {
	id := parent.ID
	in := &corpus.Input{
		ParentID:        &id,
		CreationOutcome: corpus.Favored,
		Split:           s.Split,
		MutationCount:   parent.MutationCount,
	}
	if s.Split {
		return s.buildCandidate(in, parent.StructureBytes, parent.ValueBytes)
	}
	return s.buildCandidate(in, parent.Bytes, nil)
}

// buildCandidate opens a fresh Choice Stream over (structureOrLinear,
// value) and records the concrete bytes onto in, mirroring spec.md §4.1's
// "the resulting concrete vector is what the Corpus stores".
func (s *Scheduler) buildCandidate(in *corpus.Input, structureOrLinear, value []byte) Candidate {
	src := choicestream.RandSource{Rng: s.rng}

	if s.Split {
		stream := choicestream.NewSplit(structureOrLinear, value, s.FixedSize, src, src)
		in.StructureBytes = stream.StructureBytes()
		in.ValueBytes = stream.ValueBytes()
		in.AccessLog = stream.AccessLog()
		payload := append(append([]byte(nil), in.StructureBytes...), in.ValueBytes...)
		return Candidate{Input: in, Payload: payload, Stream: stream}
	}

	stream := choicestream.NewLinear(structureOrLinear, s.FixedSize, src)
	in.Bytes = stream.Bytes()
	return Candidate{Input: in, Payload: in.Bytes, Stream: stream}
}

// TrialCount returns the number of candidates produced so far.
func (s *Scheduler) TrialCount() int { return s.trialCount }
