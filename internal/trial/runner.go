// Package trial implements the Trial Runner (spec.md §4.8): it drives one
// scheduled Input through a harness.Target, classifies the outcome, and
// folds the result into cumulative coverage, the novelty filter, the
// corpus, and the failure registry.
package trial

import (
	"time"

	"github.com/hemipt-dev/hemipt/internal/corpus"
	"github.com/hemipt-dev/hemipt/internal/covmap"
	"github.com/hemipt-dev/hemipt/internal/diversity"
	"github.com/hemipt-dev/hemipt/internal/failure"
	"github.com/hemipt-dev/hemipt/internal/harness"
	"github.com/hemipt-dev/hemipt/internal/novelty"
)

// Result is what one call to Runner.Run reports back to the Scheduler.
type Result struct {
	Outcome harness.Outcome
	Novelty novelty.Outcome
	Admitted bool
	InputID  uint64

	// FirstFailure is true only when this trial's failure fingerprint had
	// never been seen before (spec.md §4.8 step 5, "if new").
	FirstFailure bool
	Fingerprint  failure.Fingerprint

	TimedOut bool
	Err      error

	// FatalErr is a GuidanceError raised by the Target itself (an internal
	// harness error in Target.Run) or while persisting this trial's
	// artifacts (e.g. Sink.SaveFailure). spec.md §7: "Fatal — the loop
	// terminates, partial state is flushed" — a non-nil FatalErr must
	// stop the caller's loop and bubble to the entry point, never be
	// logged and continued past.
	FatalErr error
}

// Sink receives the byte-level artifacts the Trial Runner produces, so
// that Persistence (internal/persist) can write them without the Runner
// depending on the filesystem layout directly.
type Sink interface {
	// SaveFailure persists in under failures/, and its exception text
	// (if any) as the .stacktrace sibling (spec.md §4.8 step 5). A
	// non-nil error is a GuidanceError and must bubble to the entry
	// point (spec.md §7), not be logged and swallowed.
	SaveFailure(in *corpus.Input, trace string) error
}

// Runner drives trials against one Target, threading updates through the
// Cumulative Coverage map, Novelty Filter, Corpus, diversity Tracker and
// Failure Registry (spec.md §4.8's five numbered steps).
type Runner struct {
	Target harness.Target

	Cumulative *covmap.Map
	Filter     *novelty.Filter
	Corpus     *corpus.Corpus
	Diversity  *diversity.Tracker
	Failures   *failure.Registry
	Sink       Sink

	RunTimeout time.Duration

	// AdmitOnDiversityGain implements spec.md §9's "Open question
	// (diversity admission)": when true, an input that fails the Novelty
	// Filter is still admitted if it grows H1 by at least
	// DiversityGainEpsilon. Default off, per spec.md.
	AdmitOnDiversityGain bool
	DiversityGainEpsilon float64

	TotalExecs int64
	ValidExecs int64
	InvalidCount int64
}

// NewRunner wires a Runner from its component collaborators.
func NewRunner(target harness.Target, cumulative *covmap.Map, filter *novelty.Filter,
	c *corpus.Corpus, div *diversity.Tracker, failures *failure.Registry, sink Sink) *Runner {
	return &Runner{
		Target:     target,
		Cumulative: cumulative,
		Filter:     filter,
		Corpus:     c,
		Diversity:  div,
		Failures:   failures,
		Sink:       sink,
		RunTimeout: 10 * time.Second,
	}
}

// Run executes candidate through the Target and applies spec.md §4.8's
// five steps. candidate must already have its Bytes/StructureBytes/
// ValueBytes and Signature-independent fields populated by the caller
// (the Scheduler); Run fills in Signature and admits it into the Corpus
// when warranted.
func (r *Runner) Run(candidate *corpus.Input, payload []byte) Result {
	r.TotalExecs++

	// Step 1: the per-trial map is fresh for every trial (the Target
	// itself is responsible for zeroing its shared-memory trace buffer,
	// as covmap.Map's zero value has no touched cells).
	res, err := r.Target.Run(payload, r.RunTimeout)
	if err != nil {
		return Result{Outcome: harness.Failure, Err: err, FatalErr: err}
	}
	return r.Observe(candidate, res)
}

// Observe applies spec.md §4.8 steps 3-6 to a RunResult that was already
// produced by some harness — either Run's own call to r.Target, or (for
// the in-process Guidance contract in internal/engine) a caller that
// received handle_result directly from the harness rather than driving a
// harness.Target itself.
func (r *Runner) Observe(candidate *corpus.Input, res harness.RunResult) Result {
	result := Result{Outcome: res.Outcome, TimedOut: res.TimedOut, Err: res.Err}

	switch res.Outcome {
	case harness.Success:
		r.ValidExecs++
		result.Novelty, result.Admitted, result.InputID = r.handleSuccess(candidate, res.Trace)
	case harness.Invalid:
		r.InvalidCount++
	case harness.Failure:
		result.Fingerprint, result.FirstFailure, result.FatalErr = r.handleFailure(candidate, res)
	}

	return result
}

// handleSuccess implements spec.md §4.8 step 3: fold into cumulative
// coverage, classify against the Novelty Filter, and admit on a
// non-REDUNDANT verdict (or on save_all, or on a diversity gain).
func (r *Runner) handleSuccess(candidate *corpus.Input, trial *covmap.Map) (novelty.Outcome, bool, uint64) {
	if trial == nil {
		trial = covmap.New()
	}

	// Classify against the cumulative map's state *before* this trial's
	// fold (see internal/novelty/filter.go's doc comment for why), then
	// fold unconditionally.
	beforeFold := snapshotBeforeFold(r.Cumulative, trial)
	outcome := r.Filter.Classify(trial, beforeFold)
	var h1BeforeFold float64
	if r.AdmitOnDiversityGain && r.Diversity != nil {
		h1BeforeFold = r.Diversity.HillNumber(1)
	}
	r.Cumulative.Fold(trial)

	admit := outcome != novelty.Redundant || r.Filter.SaveAll()

	if !admit && r.AdmitOnDiversityGain && r.Diversity != nil {
		// H1 growth: the Tracker reads the cumulative map, so this is
		// H1 after the fold minus H1 before it.
		if r.Diversity.HillNumber(1)-h1BeforeFold >= r.DiversityGainEpsilon {
			admit = true
		}
	}

	if !admit {
		return outcome, false, 0
	}

	candidate.Signature = novelty.Of(trial)
	id := r.Corpus.Admit(candidate)
	r.Filter.Admit(candidate.Signature)
	return outcome, true, id
}

// snapshotBeforeFold reconstructs, for exactly the branches trial
// touched, the cumulative counter values as they stood before trial's
// counts were added — cheaper than copying the whole cumulative map, and
// sufficient because Classify only ever inspects trial's touched
// branches.
func snapshotBeforeFold(cumulative, trial *covmap.Map) *covmap.Map {
	snap := covmap.New()
	for _, id := range trial.NonZeroIndices() {
		v := cumulative.ValueAt(id)
		for i := uint32(0); i < v; i++ {
			snap.Increment(id)
		}
	}
	return snap
}

// handleFailure implements spec.md §4.8 step 5: fingerprint, and persist
// only on the fingerprint's first occurrence.
func (r *Runner) handleFailure(candidate *corpus.Input, res harness.RunResult) (failure.Fingerprint, bool, error) {
	var fp failure.Fingerprint
	if res.TimedOut {
		fp = failure.TimeoutFingerprint()
	} else {
		class, top := classify(res.Err)
		fp = failure.Compute(class, top)
	}

	first := r.Failures.Record(fp, candidate.ID)
	var fatalErr error
	if first && r.Sink != nil {
		trace := ""
		if res.Err != nil {
			trace = res.Err.Error()
		}
		fatalErr = r.Sink.SaveFailure(candidate, trace)
	}
	return fp, first, fatalErr
}

// classify extracts a stand-in (exception class, topmost frame) pair
// from a Go error. The real bytecode-instrumentation harness has richer
// stack information; over the Target interface all the core sees is
// err.Error(), so the whole message stands in for both fields when a
// harness doesn't wrap its errors in something more structured.
func classify(err error) (class, topFrame string) {
	if err == nil {
		return "unknown", ""
	}
	type classifier interface {
		FailureClass() string
		TopFrame() string
	}
	if c, ok := err.(classifier); ok {
		return c.FailureClass(), c.TopFrame()
	}
	return "error", err.Error()
}
