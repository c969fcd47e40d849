package region

import "math"

// Region is one behavioral cluster in the DynamicPCA's projected space,
// tracking how many distinct trace-hashes ("species") have landed in it
// (teacher's regionT, region.go).
type Region struct {
	Center []byte
	Proj   []float64

	species  map[uint64]struct{}
	SpeciesN int
	SampleN  int
}

// NewRegion builds an empty Region centered at center with projection
// proj.
func NewRegion(center []byte, proj []float64) Region {
	return Region{Center: center, Proj: proj, species: make(map[uint64]struct{})}
}

// Assign finds the nearest region to pt (by squared Euclidean distance
// in projected space) and records one more sample landing there, growing
// its species count if hash hasn't been seen in that region before.
func Assign(regions []Region, pt []float64, hash uint64) {
	if len(regions) == 0 {
		return
	}
	minDist := math.Inf(1)
	closest := 0
	for i, r := range regions {
		var dist float64
		for j, p := range r.Proj {
			diff := p - pt[j]
			dist += diff * diff
		}
		if dist < minDist {
			minDist = dist
			closest = i
		}
	}

	regions[closest].SampleN++
	if _, ok := regions[closest].species[hash]; !ok {
		regions[closest].species[hash] = struct{}{}
		regions[closest].SpeciesN++
	}
}

// ExpectedSampleReward estimates the marginal value of sampling this
// region again, via a Good-Turing-style discovery-probability times
// discovery-rate product (teacher's regionT.expectedSampleReward).
func (r Region) ExpectedSampleReward() float64 {
	if r.SpeciesN == 0 {
		return 1
	}
	specN := float64(r.SpeciesN)
	discoveryP := specN / float64(r.SampleN)
	discoveryR := math.Log((specN + 1) / specN)
	return discoveryP * discoveryR
}
