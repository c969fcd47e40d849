package engine

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemipt-dev/hemipt/internal/corpus"
	"github.com/hemipt-dev/hemipt/internal/covmap"
	"github.com/hemipt-dev/hemipt/internal/diversity"
	"github.com/hemipt-dev/hemipt/internal/failure"
	"github.com/hemipt-dev/hemipt/internal/harness"
	"github.com/hemipt-dev/hemipt/internal/harness/faketarget"
	"github.com/hemipt-dev/hemipt/internal/mutation"
	"github.com/hemipt-dev/hemipt/internal/novelty"
	"github.com/hemipt-dev/hemipt/internal/persist"
	"github.com/hemipt-dev/hemipt/internal/scheduler"
	"github.com/hemipt-dev/hemipt/internal/trial"
)

func newTestEngine(t *testing.T, fn faketarget.Func, opts Options) (*Engine, *corpus.Corpus) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	mut := mutation.NewEngine(rng)
	sched := scheduler.New(nil, c, mut, rng, false)

	cumulative := covmap.New()
	div := diversity.NewTracker(cumulative)
	runner := trial.NewRunner(faketarget.New(fn), cumulative, novelty.NewFilter(false, false), c, div, failure.NewRegistry(), nil)
	runner.RunTimeout = time.Second

	store, err := persist.Open(t.TempDir())
	require.NoError(t, err)

	e := New(sched, runner, store, cumulative, div, opts)
	return e, c
}

func TestEngineRunWithTargetRespectsTrialCap(t *testing.T) {
	e, c := newTestEngine(t, func(in []byte) harness.RunResult {
		trace := covmap.New()
		trace.Increment(uint32(len(in)) + 1)
		return harness.RunResult{Outcome: harness.Success, Trace: trace}
	}, Options{TrialCap: 5})

	require.NoError(t, e.RunWithTarget())

	assert.Equal(t, int64(5), e.runner.TotalExecs)
	assert.Greater(t, c.Len(), 0)
}

func TestEngineStopsOnCrashWhenExitOnCrash(t *testing.T) {
	calls := 0
	e, _ := newTestEngine(t, func(in []byte) harness.RunResult {
		calls++
		return harness.RunResult{Outcome: harness.Failure}
	}, Options{TrialCap: 1000, ExitOnCrash: true})

	require.NoError(t, e.RunWithTarget())

	assert.True(t, e.CrashSeen())
	assert.LessOrEqual(t, calls, 2)
}

func TestEngineStopRequestedHaltsLoop(t *testing.T) {
	e, _ := newTestEngine(t, func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Success, Trace: covmap.New()}
	}, Options{TrialCap: 1000})

	e.Stop()
	require.NoError(t, e.RunWithTarget())
	assert.Equal(t, int64(0), e.runner.TotalExecs)
}

type failingSink struct{}

func (failingSink) SaveFailure(in *corpus.Input, trace string) error {
	return errors.New("disk full")
}

func TestEngineRunWithTargetStopsOnFatalSinkError(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := corpus.New()
	mut := mutation.NewEngine(rng)
	sched := scheduler.New(nil, c, mut, rng, false)

	cumulative := covmap.New()
	div := diversity.NewTracker(cumulative)
	calls := 0
	target := faketarget.New(func(in []byte) harness.RunResult {
		calls++
		return harness.RunResult{Outcome: harness.Failure, Err: errors.New("boom")}
	})
	runner := trial.NewRunner(target, cumulative, novelty.NewFilter(false, false), c, div, failure.NewRegistry(), failingSink{})
	runner.RunTimeout = time.Second

	store, err := persist.Open(t.TempDir())
	require.NoError(t, err)

	e := New(sched, runner, store, cumulative, div, Options{TrialCap: 1000})

	require.Error(t, e.RunWithTarget())
	assert.Equal(t, 1, calls, "the loop must stop after the first fatal error, not keep running")
}

func TestEngineGuidanceContractRoundTrip(t *testing.T) {
	e, c := newTestEngine(t, func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Success}
	}, Options{TrialCap: 1})

	require.True(t, e.HasInput())
	payload := e.GetInput()
	assert.NotNil(t, payload)

	cb := e.TraceCallback("t0")
	cb(harness.TraceEvent{Kind: harness.Branch, BranchID: 42})

	result := e.HandleResult(harness.Success, nil)
	assert.Equal(t, novelty.NewBranch, result.Novelty)
	assert.True(t, result.Admitted)
	assert.Equal(t, 1, c.Len())

	assert.False(t, e.HasInput())
}
