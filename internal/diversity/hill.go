// Package diversity computes Hill numbers over the cumulative branch-hit
// histogram (spec.md §4.4), grounded on the original JQF/BeDivFuzz
// DivMetricsCounter (original_source/fuzz/.../div/DivMetricsCounter.java),
// which this package's cached-refresh behavior mirrors directly.
package diversity

import (
	"math"
	"time"

	"github.com/hemipt-dev/hemipt/internal/covmap"
)

// DefaultRefreshInterval matches DivMetricsCounter.STATS_REFRESH_TIME_PERIOD
// and spec.md §4.4's "default 5s".
const DefaultRefreshInterval = 5 * time.Second

// Tracker computes Hill numbers of order 0, 1, 2 over a cumulative
// Coverage Map's non-zero hit-count histogram, refreshing the cached
// values at most once per RefreshInterval.
type Tracker struct {
	cumulative      *covmap.Map
	RefreshInterval time.Duration

	lastRefresh time.Time
	cached      [3]float64 // H0, H1, H2
	haveCached  bool
}

// NewTracker builds a Tracker over the given cumulative Coverage Map.
func NewTracker(cumulative *covmap.Map) *Tracker {
	return &Tracker{cumulative: cumulative, RefreshInterval: DefaultRefreshInterval}
}

// Snapshot returns the cached (H0, H1, H2), recomputing them first if at
// least RefreshInterval has elapsed since the last recompute (spec.md
// §4.4).
func (t *Tracker) Snapshot(now time.Time) (h0, h1, h2 float64) {
	if !t.haveCached || now.Sub(t.lastRefresh) >= t.RefreshInterval {
		t.recompute()
		t.lastRefresh = now
		t.haveCached = true
	}
	return t.cached[0], t.cached[1], t.cached[2]
}

func (t *Tracker) recompute() {
	values := t.cumulative.NonZeroValues()

	var total float64
	for _, v := range values {
		total += float64(v)
	}

	var h0, shannon, simpson float64
	if total > 0 {
		for _, v := range values {
			p := float64(v) / total
			h0++
			shannon += p * math.Log(p)
			simpson += p * p
		}
	}

	t.cached[0] = h0
	t.cached[1] = math.Exp(-shannon)
	if simpson > 0 {
		t.cached[2] = 1 / simpson
	} else {
		t.cached[2] = 0
	}
}

// ShannonIndex returns -Σ p_i ln p_i over the current histogram, computed
// fresh (uncached). Exposed because the original DivMetricsCounter exposes
// it as its own entry point (shannonIndex()), not only folded into H1.
func (t *Tracker) ShannonIndex() float64 {
	values := t.cumulative.NonZeroValues()
	var total float64
	for _, v := range values {
		total += float64(v)
	}
	if total == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		p := float64(v) / total
		sum += p * math.Log(p)
	}
	return -sum
}

// HillNumber computes the Hill number of an arbitrary order q over the
// current histogram, computed fresh (uncached). H0/H1/H2 are special
// cases of this general form; kept as a separate entry point because the
// original DivMetricsCounter exposes behavioral_diversity(order) as a
// general function with order==1 special-cased via the Shannon-index
// closed form to avoid a 0^0 / divide-by-zero at q=1.
func (t *Tracker) HillNumber(order float64) float64 {
	if order == 1 {
		return math.Exp(t.ShannonIndex())
	}

	values := t.cumulative.NonZeroValues()
	var total float64
	for _, v := range values {
		total += float64(v)
	}
	if total == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		p := float64(v) / total
		sum += math.Pow(p, order)
	}
	return math.Pow(sum, 1/(1-order))
}
