package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemipt-dev/hemipt/internal/herrors"
)

func TestValidateRejectsNoCovWithoutBlind(t *testing.T) {
	opts := &Options{In: "in", Out: "out", Engine: Zest, Instrumentation: Fast, NoCov: true}
	err := opts.Validate()
	require.Error(t, err)
	assert.IsType(t, &herrors.ConfigurationError{}, err)
}

func TestValidateAcceptsNoCovWithBlind(t *testing.T) {
	opts := &Options{In: "in", Out: "out", Engine: Zest, Instrumentation: Fast, NoCov: true, Blind: true}
	assert.NoError(t, opts.Validate())
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	opts := &Options{In: "in", Out: "out", Engine: "nonsense", Instrumentation: Fast}
	require.Error(t, opts.Validate())
}

func TestValidateRequiresInAndOut(t *testing.T) {
	opts := &Options{Engine: Zest, Instrumentation: Fast}
	require.Error(t, opts.Validate())
}

func TestResolveDirsCreatesTree(t *testing.T) {
	tmp := t.TempDir()
	out := filepath.Join(tmp, "fuzz-out")
	opts := &Options{Out: out}
	dirs, err := opts.ResolveDirs()
	require.NoError(t, err)

	for _, d := range []string{dirs.Out, dirs.Corpus, dirs.Failures} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestParseDurationEmptyMeansNoDeadline(t *testing.T) {
	d, err := ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	_, err := ParseDuration("not-a-duration")
	require.Error(t, err)
	assert.IsType(t, &herrors.ConfigurationError{}, err)
}
