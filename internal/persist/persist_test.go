package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemipt-dev/hemipt/internal/corpus"
	"github.com/hemipt-dev/hemipt/internal/covmap"
)

func TestSaveInputLinear(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	in := &corpus.Input{ID: 1, Bytes: []byte{1, 2, 3}}
	require.NoError(t, s.SaveInput(in))

	data, err := os.ReadFile(filepath.Join(dir, "corpus", "id_0001"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestSaveInputSplit(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	in := &corpus.Input{ID: 2, Split: true, StructureBytes: []byte{9}, ValueBytes: []byte{8, 7}}
	require.NoError(t, s.SaveInput(in))

	structData, err := os.ReadFile(filepath.Join(dir, "corpus", "id_0002.structure"))
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, structData)

	valData, err := os.ReadFile(filepath.Join(dir, "corpus", "id_0002.value"))
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 7}, valData)
}

func TestSaveFailureWritesStacktrace(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	in := &corpus.Input{ID: 7, Bytes: []byte{0x2A}}
	require.NoError(t, s.SaveFailure(in, "panic: boom"))

	data, err := os.ReadFile(filepath.Join(dir, "failures", "7"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A}, data)

	trace, err := os.ReadFile(filepath.Join(dir, "failures", "7.stacktrace"))
	require.NoError(t, err)
	assert.Equal(t, "panic: boom", string(trace))
}

func TestWritePlotRowAppendsCSV(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	s.WritePlotRow(PlotRow{TimestampUnix: 100, TotalExecs: 5, ValidExecs: 4, CorpusSize: 2, CoveredBranches: 3, H1: 1.5, H2: 1.2})
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "plot_data"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,total_execs")
	assert.Contains(t, string(data), "100,5,4,2,3")
}

func TestWriteBranchHitCounts(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	m := covmap.New()
	m.Increment(5)
	m.Increment(5)
	require.NoError(t, s.WriteBranchHitCounts(m))

	data, err := os.ReadFile(filepath.Join(dir, "branch_hit_counts"))
	require.NoError(t, err)
	require.Len(t, data, 8)
}

func TestStatsLineFormats(t *testing.T) {
	l := StatsLine{TotalExecs: 100, ValidExecs: 90, CorpusSize: 10, CoveredBranches: 20, Failures: 1, ElapsedSeconds: 10}
	assert.Contains(t, l.Format(AFLStyle), "execs: 100")
	assert.Contains(t, l.Format(LibFuzzerStyle), "#100")
}
