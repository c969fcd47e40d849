package persist

import "fmt"

// StatsStyle selects the stats-line format (spec.md §4.9 "Stats line is
// either AFL-style or libFuzzer-style depending on configuration").
type StatsStyle int

const (
	AFLStyle StatsStyle = iota
	LibFuzzerStyle
)

// StatsLine is the data behind one periodic progress line.
type StatsLine struct {
	TotalExecs      int64
	ValidExecs      int64
	CorpusSize      int
	CoveredBranches int
	Failures        int
	ElapsedSeconds  float64
}

// Format renders l per style.
func (l StatsLine) Format(style StatsStyle) string {
	execsPerSec := 0.0
	if l.ElapsedSeconds > 0 {
		execsPerSec = float64(l.TotalExecs) / l.ElapsedSeconds
	}
	switch style {
	case LibFuzzerStyle:
		return fmt.Sprintf("#%d\tCOV: %d\tft: %d\tcorp: %d\texec/s: %.1f\tcrashes: %d",
			l.TotalExecs, l.CoveredBranches, l.CoveredBranches, l.CorpusSize, execsPerSec, l.Failures)
	default:
		return fmt.Sprintf("[*] execs: %d, valid: %d, corpus: %d, branches: %d, crashes: %d, exec/s: %.1f",
			l.TotalExecs, l.ValidExecs, l.CorpusSize, l.CoveredBranches, l.Failures, execsPerSec)
	}
}
