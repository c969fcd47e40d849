// Package persist implements Persistence & Reporting (spec.md §4.9): the
// corpus/failures file tree, the plot_data CSV, the optional
// branch_hit_counts binary snapshot, and fuzz.log — grounded on the
// teacher's exports.go (encoding/csv usage) and main.go/put_afl.go's
// plain log.Logger usage.
package persist

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/hemipt-dev/hemipt/internal/corpus"
	"github.com/hemipt-dev/hemipt/internal/covmap"
	"github.com/hemipt-dev/hemipt/internal/herrors"
)

// Store owns the output directory tree and writes every artifact spec.md
// §4.9 lists.
type Store struct {
	outDir      string
	corpusDir   string
	failuresDir string

	Logger  *log.Logger
	logFile *os.File

	plotFile *os.File
	plotCSV  *csv.Writer
}

// Open creates (if missing) out/corpus, out/failures, opens fuzz.log and
// plot_data for appending, and returns a ready Store.
func Open(outDir string) (*Store, error) {
	corpusDir := filepath.Join(outDir, "corpus")
	failuresDir := filepath.Join(outDir, "failures")
	for _, d := range []string{outDir, corpusDir, failuresDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, &herrors.GuidanceError{Op: "create " + d, Err: err}
		}
	}

	logFile, err := os.OpenFile(filepath.Join(outDir, "fuzz.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &herrors.GuidanceError{Op: "open fuzz.log", Err: err}
	}
	logger := log.New(io.MultiWriter(os.Stderr, logFile), "", log.LstdFlags)

	plotExists := fileExists(filepath.Join(outDir, "plot_data"))
	plotFile, err := os.OpenFile(filepath.Join(outDir, "plot_data"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &herrors.GuidanceError{Op: "open plot_data", Err: err}
	}
	plotCSV := csv.NewWriter(plotFile)
	if !plotExists {
		_ = plotCSV.Write([]string{"timestamp", "total_execs", "valid_execs", "corpus_size", "covered_branches", "H1", "H2"})
		plotCSV.Flush()
	}

	return &Store{
		outDir:      outDir,
		corpusDir:   corpusDir,
		failuresDir: failuresDir,
		Logger:      logger,
		logFile:     logFile,
		plotFile:    plotFile,
		plotCSV:     plotCSV,
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SaveInput writes in's bytes under corpus/, one file for linear inputs
// or a `.structure`/`.value` pair for split inputs (spec.md §4.9, §6 seed
// file format).
func (s *Store) SaveInput(in *corpus.Input) error {
	base := filepath.Join(s.corpusDir, fmt.Sprintf("id_%04d", in.ID))
	if !in.Split {
		return writeFileOnce(base, in.Bytes)
	}
	if err := writeFileOnce(base+".structure", in.StructureBytes); err != nil {
		return err
	}
	return writeFileOnce(base+".value", in.ValueBytes)
}

// SaveFailure implements trial.Sink: it persists a failing Input under
// failures/ named by id, and its exception text as the .stacktrace
// sibling (spec.md §4.8 step 5). A write failure is a GuidanceError
// (spec.md §7: "Fatal — the loop terminates, partial state is flushed"),
// not something to log and continue past.
func (s *Store) SaveFailure(in *corpus.Input, trace string) error {
	base := filepath.Join(s.failuresDir, fmt.Sprintf("%d", in.ID))
	payload := in.Bytes
	if in.Split {
		payload = append(append([]byte(nil), in.StructureBytes...), in.ValueBytes...)
	}
	if err := writeFileOnce(base, payload); err != nil {
		return &herrors.GuidanceError{Op: fmt.Sprintf("save failure input %d", in.ID), Err: err}
	}
	if err := writeFileOnce(base+".stacktrace", []byte(trace)); err != nil {
		return &herrors.GuidanceError{Op: fmt.Sprintf("save stacktrace for failure %d", in.ID), Err: err}
	}
	return nil
}

func writeFileOnce(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// PlotRow is one sample of the plot_data CSV (spec.md §4.9).
type PlotRow struct {
	TimestampUnix   int64
	TotalExecs      int64
	ValidExecs      int64
	CorpusSize      int
	CoveredBranches int
	H1              float64
	H2              float64
}

// WritePlotRow appends one row to plot_data and flushes it immediately so
// a concurrently-tailing stats reader sees it (spec.md §5 "external
// readers receive snapshots").
func (s *Store) WritePlotRow(r PlotRow) {
	_ = s.plotCSV.Write([]string{
		fmt.Sprintf("%d", r.TimestampUnix),
		fmt.Sprintf("%d", r.TotalExecs),
		fmt.Sprintf("%d", r.ValidExecs),
		fmt.Sprintf("%d", r.CorpusSize),
		fmt.Sprintf("%d", r.CoveredBranches),
		fmt.Sprintf("%f", r.H1),
		fmt.Sprintf("%f", r.H2),
	})
	s.plotCSV.Flush()
	if err := s.plotCSV.Error(); err != nil {
		s.Logger.Printf("couldn't record plot_data row: %v", err)
	}
}

// WriteBranchHitCounts persists the cumulative counter array in the
// sequence-of-(u32 branch_id, u32 hit_count) little-endian format spec.md
// §6 specifies, when saveBranchHitCounts is enabled.
func (s *Store) WriteBranchHitCounts(cumulative *covmap.Map) error {
	f, err := os.Create(filepath.Join(s.outDir, "branch_hit_counts"))
	if err != nil {
		return &herrors.GuidanceError{Op: "create branch_hit_counts", Err: err}
	}
	defer f.Close()

	buf := make([]byte, 8)
	for _, id := range cumulative.NonZeroIndices() {
		binary.LittleEndian.PutUint32(buf[0:4], id)
		binary.LittleEndian.PutUint32(buf[4:8], cumulative.ValueAt(id))
		if _, err := f.Write(buf); err != nil {
			return &herrors.GuidanceError{Op: "write branch_hit_counts", Err: err}
		}
	}
	return nil
}

// Close flushes and closes every open file the Store holds.
func (s *Store) Close() error {
	s.plotCSV.Flush()
	logErr := s.logFile.Close()
	if err := s.plotFile.Close(); err != nil {
		return err
	}
	return logErr
}
