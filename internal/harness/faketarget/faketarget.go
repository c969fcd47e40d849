// Package faketarget is an in-memory harness.Target for tests: no binary,
// no fork server, just a Go function standing in for the instrumented
// entry point. It lets internal/trial, internal/scheduler and
// internal/engine be exercised deterministically without a real PUT.
package faketarget

import (
	"time"

	"github.com/hemipt-dev/hemipt/internal/harness"
)

// Func is the user function a Target wraps, given the raw bytes the
// harness would otherwise write to stdin/argv, and returning what a real
// harness would report for that trial.
type Func func(input []byte) harness.RunResult

// Target adapts a Func to harness.Target.
type Target struct {
	fn     Func
	closed bool

	// Calls records every input passed to Run, for assertions in tests.
	Calls [][]byte
}

// New wraps fn as a harness.Target.
func New(fn Func) *Target {
	return &Target{fn: fn}
}

// Run invokes fn synchronously; timeout is ignored unless fn itself
// consults it via a closure.
func (t *Target) Run(input []byte, _ time.Duration) (harness.RunResult, error) {
	cp := make([]byte, len(input))
	copy(cp, input)
	t.Calls = append(t.Calls, cp)
	return t.fn(cp), nil
}

// Close marks the target closed; Run may still be called afterward since
// this is a test double, not a resource owner.
func (t *Target) Close() error {
	t.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (t *Target) Closed() bool { return t.closed }
