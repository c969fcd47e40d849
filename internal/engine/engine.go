// Package engine implements the Guidance contract (spec.md §6) and ties
// every other package together: Choice Stream, Coverage Map, Novelty
// Filter, Diversity Metrics, Corpus, Mutation Engine, Scheduler, Failure
// Registry, Trial Runner, and Persistence.
package engine

import (
	"sync"
	"time"

	"github.com/hemipt-dev/hemipt/internal/covmap"
	"github.com/hemipt-dev/hemipt/internal/diversity"
	"github.com/hemipt-dev/hemipt/internal/harness"
	"github.com/hemipt-dev/hemipt/internal/herrors"
	"github.com/hemipt-dev/hemipt/internal/persist"
	"github.com/hemipt-dev/hemipt/internal/scheduler"
	"github.com/hemipt-dev/hemipt/internal/trial"
)

// Engine is the loop-thread-owned aggregate spec.md §9 calls for
// ("Process-wide state ... model as an owned aggregate held by the loop;
// pass an explicit handle to every operation that reads or mutates it.
// Avoid hidden globals."). It implements the Guidance contract (§6) for
// an in-process, generator-driven harness, and also exposes RunWithTarget
// for the black-box harness.Target adapters (aflforksrv, faketarget).
type Engine struct {
	mu sync.Mutex

	sched  *scheduler.Scheduler
	runner *trial.Runner
	store  *persist.Store

	cumulative *covmap.Map
	diversity  *diversity.Tracker

	deadline    time.Time
	trialCap    int64
	exitOnCrash bool

	stopRequested bool
	crashSeen     bool

	statsRefresh   time.Duration
	statsStyle     persist.StatsStyle
	lastStatsFlush time.Time
	startTime      time.Time

	current      scheduler.Candidate
	currentTrace *covmap.Map
	frameStacks  map[string]*harness.FrameStack
}

// Options configures a new Engine.
type Options struct {
	Deadline     time.Time // zero means no deadline
	TrialCap     int64     // zero means unbounded
	ExitOnCrash  bool
	StatsRefresh time.Duration
	StatsStyle   persist.StatsStyle
}

// New wires an Engine from its collaborators.
func New(sched *scheduler.Scheduler, runner *trial.Runner, store *persist.Store,
	cumulative *covmap.Map, div *diversity.Tracker, opts Options) *Engine {
	if opts.StatsRefresh <= 0 {
		opts.StatsRefresh = 3 * time.Second
	}
	return &Engine{
		sched:        sched,
		runner:       runner,
		store:        store,
		cumulative:   cumulative,
		diversity:    div,
		deadline:     opts.Deadline,
		trialCap:     opts.TrialCap,
		exitOnCrash:  opts.ExitOnCrash,
		statsRefresh: opts.StatsRefresh,
		statsStyle:   opts.StatsStyle,
		startTime:    time.Now(),
		frameStacks:  make(map[string]*harness.FrameStack),
	}
}

// HasInput implements the Guidance contract's has_input (spec.md §6):
// true if another trial is scheduled. It also evaluates the §5
// termination conditions (deadline, trial cap, stopRequested, crash-exit)
// so a caller need only loop `for engine.HasInput() { ... }`.
func (e *Engine) HasInput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopRequested {
		return false
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		return false
	}
	if e.trialCap > 0 && int64(e.sched.TrialCount()) >= e.trialCap {
		return false
	}
	if e.exitOnCrash && e.crashSeen {
		return false
	}

	e.current = e.sched.Next()
	e.currentTrace = covmap.New()
	return true
}

// GetInput implements get_input: opens the Choice Stream built by the
// Scheduler for the current trial (spec.md §6 "invoked at most once per
// successful has_input").
func (e *Engine) GetInput() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Payload
}

// ObserveGenerated implements observe_generated: a reporting-only hook
// for the harness to echo resolved generator arguments into fuzz.log
// (spec.md §6).
func (e *Engine) ObserveGenerated(args string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil && e.store.Logger != nil {
		e.store.Logger.Printf("generated: %s", args)
	}
}

// TraceCallback implements trace_callback(thread): returns a per-thread
// trace consumer that folds Branch events into the current trial's
// Coverage Map and drives that thread's FrameStack for Call/Return
// events (spec.md §6, §5 "the fold is the only multi-thread shared-state
// touchpoint and must be serialized").
func (e *Engine) TraceCallback(threadID string) harness.TraceCallback {
	return func(ev harness.TraceEvent) {
		e.mu.Lock()
		defer e.mu.Unlock()

		switch ev.Kind {
		case harness.Branch:
			if e.currentTrace != nil {
				e.currentTrace.Increment(ev.BranchID)
			}
		case harness.Call, harness.Return:
			fs, ok := e.frameStacks[threadID]
			if !ok {
				fs = harness.NewFrameStack()
				e.frameStacks[threadID] = fs
			}
			fs.Handle(ev)
		}
	}
}

// HandleResult implements handle_result (spec.md §6): invoked exactly
// once per get_input. It runs the same Trial Runner steps 3-6 that
// RunWithTarget's harness.Target path runs, operating on the trace
// accumulated via TraceCallback instead of a Target's RunResult.
func (e *Engine) HandleResult(outcome harness.Outcome, resultErr error) trial.Result {
	e.mu.Lock()
	candidate := e.current.Input
	traceMap := e.currentTrace
	e.mu.Unlock()

	res := harness.RunResult{Outcome: outcome, Trace: traceMap, Err: resultErr}
	result := e.runner.Observe(candidate, res)

	if outcome == harness.Failure {
		e.mu.Lock()
		e.crashSeen = true
		e.mu.Unlock()
	}

	e.maybeEmitStats()
	return result
}

// RunWithTarget drives the full loop against a concrete harness.Target
// (the aflforksrv/faketarget adapters), bypassing the inverted
// has_input/get_input/handle_result control flow in favor of directly
// calling trial.Runner.Run — this is what cmd/hemipt uses, since it
// drives an external binary rather than an in-process generator harness.
// Runs until HasInput would return false or a GuidanceError occurs; the
// current trial always completes before stopping (spec.md §5 "no mid-trial
// cancellation"). A non-nil return is a GuidanceError (spec.md §7:
// "Fatal — the loop terminates, partial state is flushed") that the
// caller must bubble to the entry point, not log and continue past.
func (e *Engine) RunWithTarget() error {
	for e.HasInput() {
		payload := e.GetInput()
		e.mu.Lock()
		candidate := e.current.Input
		e.mu.Unlock()

		result := e.runner.Run(candidate, payload)
		if result.Outcome == harness.Failure {
			e.mu.Lock()
			e.crashSeen = true
			e.mu.Unlock()
		}
		if result.FatalErr != nil {
			return &herrors.GuidanceError{Op: "run trial", Err: result.FatalErr}
		}
		if result.Admitted && e.store != nil {
			if err := e.store.SaveInput(candidate); err != nil {
				return &herrors.GuidanceError{Op: "save admitted input", Err: err}
			}
		}
		e.maybeEmitStats()
	}
	return nil
}

// Stop sets the monotonic stopRequested flag (spec.md §5 "an external
// stop signal ... sets a monotonic stopRequested flag checked between
// trials"). Safe to call from a different goroutine (e.g. a signal
// handler) than the loop thread.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
}

// CrashSeen reports whether any trial has produced a FAILURE outcome.
func (e *Engine) CrashSeen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.crashSeen
}

// maybeEmitStats writes a plot_data row and stats line once statsRefresh
// has elapsed since the last emission (spec.md §4.8 step 6, §4.9).
func (e *Engine) maybeEmitStats() {
	now := time.Now()
	e.mu.Lock()
	due := now.Sub(e.lastStatsFlush) >= e.statsRefresh
	if due {
		e.lastStatsFlush = now
	}
	e.mu.Unlock()
	if !due || e.store == nil {
		return
	}

	h0, h1, h2 := 0.0, 0.0, 0.0
	if e.diversity != nil {
		h0, h1, h2 = e.diversity.Snapshot(now)
	}

	e.store.WritePlotRow(persist.PlotRow{
		TimestampUnix:   now.Unix(),
		TotalExecs:      e.runner.TotalExecs,
		ValidExecs:      e.runner.ValidExecs,
		CorpusSize:      e.runner.Corpus.Len(),
		CoveredBranches: int(h0),
		H1:              h1,
		H2:              h2,
	})

	failures := e.runner.Failures.Len()
	line := persist.StatsLine{
		TotalExecs:      e.runner.TotalExecs,
		ValidExecs:      e.runner.ValidExecs,
		CorpusSize:      e.runner.Corpus.Len(),
		CoveredBranches: int(h0),
		Failures:        failures,
		ElapsedSeconds:  now.Sub(e.startTime).Seconds(),
	}
	e.store.Logger.Print(line.Format(e.statsStyle))
}
