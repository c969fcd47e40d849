// Package region is the bedivfuzz engine's optional secondary signal: a
// dynamic-PCA tracker over the cumulative per-branch hit-count log-space,
// a nearest-region species counter, and an MLE pairwise-divergence
// diagnostic between two seeds' hash-frequency histograms, adapted from
// the teacher's pca.go/region.go/mle_divergence.go. No other package in
// this repository imports it: the Trial Runner, Scheduler and engine do
// not consult it.
package region

import "math"

// Regulizer avoids log(0) when a branch's hit count is zero, matching
// the teacher's `regulizer` constant (fuzz_consts.go).
const Regulizer = 0.1

// LogVals maps a raw per-trial hit-count byte (0-255, the teacher's
// trace-bit domain) to its log-scaled value, precomputed once the same
// way the teacher's hash.go `init()` builds `logVals`.
var LogVals [0x100]float64

func init() {
	logReg := math.Log(Regulizer)
	for i := 0; i < 0x100; i++ {
		LogVals[i] = math.Log(float64(i)+Regulizer) - logReg
	}
}
