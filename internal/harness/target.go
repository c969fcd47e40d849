package harness

import (
	"time"

	"github.com/hemipt-dev/hemipt/internal/covmap"
)

// RunResult is what a Target reports back for one trial.
type RunResult struct {
	Outcome Outcome

	// Trace holds the per-trial branch-hit counts reported by the
	// instrumentation (spec.md §4.8 step 1-2). Only meaningful when
	// Outcome == Success; the Trial Runner does not fold non-SUCCESS
	// traces into cumulative coverage (spec.md §4.8 step 4).
	Trace *covmap.Map

	// Err carries the throwable/error for Failure and Invalid outcomes
	// (spec.md §6 handle_result "error carries the throwable").
	Err error

	// TimedOut is set when the harness reports the trial exceeded
	// runTimeout (spec.md §4.8 "Per-trial timeout").
	TimedOut bool

	ExecutionTime time.Duration
}

// Target is the external test-harness adapter the Trial Runner drives
// (spec.md §1 "the test-harness adapter that invokes a user function...
// treated as a black-box"; §6 has_input/get_input/handle_result). A
// concrete Target owns one running instance of whatever actually executes
// the entry point (a forked instrumented binary, an in-process JVM/Go
// callable, ...).
type Target interface {
	// Run executes one trial against input, blocking until the harness
	// reports a result or the timeout elapses.
	Run(input []byte, timeout time.Duration) (RunResult, error)

	// Close releases any resources the Target holds (e.g. a fork-server
	// child process and its shared memory segment).
	Close() error
}
