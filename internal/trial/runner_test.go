package trial

import (
	"errors"
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
	"github.com/hemipt-dev/hemipt/internal/novelty"
)

type fakeSink struct {
	saved   []*corpus.Input
	saveErr error
}

func (s *fakeSink) SaveFailure(in *corpus.Input, _ string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, in)
	return nil
}

func newRunner(fn faketarget.Func, sink Sink) (*Runner, *corpus.Corpus) {
	cumulative := covmap.New()
	c := corpus.New()
	return NewRunner(faketarget.New(fn), cumulative, novelty.NewFilter(false, false), c,
		diversity.NewTracker(cumulative), failure.NewRegistry(), sink), c
}

func TestRunnerNewBranchIsAdmitted(t *testing.T) {
	r, c := newRunner(func(in []byte) harness.RunResult {
		trace := covmap.New()
		trace.Increment(1)
		return harness.RunResult{Outcome: harness.Success, Trace: trace}
	}, nil)

	in := &corpus.Input{Bytes: []byte{1}}
	res := r.Run(in, in.Bytes)

	assert.Equal(t, harness.Success, res.Outcome)
	assert.Equal(t, novelty.NewBranch, res.Novelty)
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, c.Len())
}

func TestRunnerRedundantIsNotAdmitted(t *testing.T) {
	r, c := newRunner(func(in []byte) harness.RunResult {
		trace := covmap.New()
		trace.Increment(1)
		return harness.RunResult{Outcome: harness.Success, Trace: trace}
	}, nil)

	first := &corpus.Input{Bytes: []byte{1}}
	r.Run(first, first.Bytes)
	require.Equal(t, 1, c.Len())

	second := &corpus.Input{Bytes: []byte{2}}
	res := r.Run(second, second.Bytes)
	assert.Equal(t, novelty.Redundant, res.Novelty)
	assert.False(t, res.Admitted)
	assert.Equal(t, 1, c.Len())
}

func TestRunnerInvalidDoesNotFoldCoverage(t *testing.T) {
	r, c := newRunner(func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Invalid}
	}, nil)

	in := &corpus.Input{Bytes: []byte{0}}
	res := r.Run(in, in.Bytes)

	assert.Equal(t, harness.Invalid, res.Outcome)
	assert.False(t, res.Admitted)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), r.InvalidCount)
	assert.Empty(t, r.Cumulative.NonZeroIndices())
}

func TestRunnerFailureIsFingerprintedOnce(t *testing.T) {
	sink := &fakeSink{}
	r, c := newRunner(func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Failure, Err: errors.New("boom")}
	}, sink)

	a := &corpus.Input{Bytes: []byte{1}}
	resA := r.Run(a, a.Bytes)
	require.True(t, resA.FirstFailure)

	b := &corpus.Input{Bytes: []byte{2}}
	resB := r.Run(b, b.Bytes)
	assert.False(t, resB.FirstFailure)
	assert.Equal(t, resA.Fingerprint, resB.Fingerprint)
	assert.Len(t, sink.saved, 1)
	assert.Equal(t, 0, c.Len())
}

func TestRunnerFailureReportsFatalErrOnSinkFailure(t *testing.T) {
	sink := &fakeSink{saveErr: errors.New("disk full")}
	r, _ := newRunner(func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Failure, Err: errors.New("boom")}
	}, sink)

	in := &corpus.Input{Bytes: []byte{1}}
	res := r.Run(in, in.Bytes)

	require.Error(t, res.FatalErr)
}

func TestRunnerTimeoutUsesDistinguishedFingerprint(t *testing.T) {
	r, _ := newRunner(func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Failure, TimedOut: true}
	}, nil)

	in := &corpus.Input{Bytes: []byte{1}}
	res := r.Run(in, in.Bytes)
	assert.True(t, res.TimedOut)
	assert.Equal(t, failure.TimeoutFingerprint(), res.Fingerprint)
}

func TestRunnerRunTimeoutDefault(t *testing.T) {
	r, _ := newRunner(func(in []byte) harness.RunResult {
		return harness.RunResult{Outcome: harness.Success, Trace: covmap.New()}
	}, nil)
	assert.Equal(t, 10*time.Second, r.RunTimeout)
}
