package region

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// InitDim is the number of principal components the tracker keeps,
// matching the teacher's pcaInitDim.
const InitDim = 10

const (
	phase2Dur     = time.Second
	phase3Dur     = phase2Dur
	convCritFloor = 0.05
)

// DynamicPCA tracks a rolling principal-component basis over per-trial
// log-scaled branch-hit vectors, adapted from the teacher's dynamicPCA
// (pca.go). It runs in four phases: short initial collection, a
// recentering window, a rotation window, then indefinite steady-state
// tracking.
type DynamicPCA struct {
	dims int

	centers []float64
	basis   *mat.Dense

	sampleN int
	sums    []float64
	covMat  *mat.Dense

	startT, recenterT      time.Time
	phase2, phase3, phase4 bool
}

// NewDynamicPCA seeds a tracker from an initial queue of log-scaled
// branch vectors, each of length dims (spec.md's covmap.Size).
func NewDynamicPCA(dims int, queue [][]float64) (*DynamicPCA, bool) {
	p := &DynamicPCA{dims: dims, centers: make([]float64, dims), sums: make([]float64, dims)}

	for _, trace := range queue {
		for j, v := range trace {
			p.sums[j] += v
		}
	}

	p.sampleN = len(queue)
	if p.sampleN == 0 {
		return p, false
	}
	samplesMat := mat.NewDense(p.sampleN, dims, nil)
	for j := 0; j < dims; j++ {
		p.centers[j] = p.sums[j] / float64(p.sampleN)
		for i := 0; i < p.sampleN; i++ {
			samplesMat.Set(i, j, queue[i][j]-p.centers[j])
		}
	}

	var pc stat.PC
	ok := pc.PrincipalComponents(samplesMat, nil)
	if !ok {
		return p, false
	}

	vecs := new(mat.Dense)
	pc.VectorsTo(vecs)
	basisDim := InitDim
	if basisDim > dims {
		basisDim = dims
	}
	p.basis = mat.DenseCopyOf(vecs.Slice(0, dims, 0, basisDim))

	p.covMat = mat.NewDense(basisDim, basisDim, nil)
	vars := pc.VarsTo(nil)
	for i := 0; i < basisDim; i++ {
		p.covMat.Set(i, i, float64(p.sampleN)*vars[i])
	}

	p.phase2 = true
	p.startT = time.Now()
	return p, true
}

// NewSample folds one more log-scaled branch vector into the tracker,
// advancing the phase state machine on its own schedule.
func (p *DynamicPCA) NewSample(trace []float64) {
	now := time.Now()
	switch {
	case p.phase2 && now.Sub(p.startT) > phase2Dur:
		p.recenter()
		p.recenterT = time.Now()
		p.phase2, p.phase3 = false, true
	case p.phase3 && now.Sub(p.recenterT) > phase3Dur:
		if p.rotate() {
			p.phase3, p.phase4 = false, true
		} else {
			p.recenterT = time.Now()
		}
	}

	p.sampleN++
	sampMat := mat.NewDense(1, p.dims, nil)
	for i, v := range trace {
		p.sums[i] += v
		sampMat.Set(0, i, v-p.centers[i])
	}

	projMat := new(mat.Dense)
	projMat.Mul(sampMat, p.basis)

	covs := new(mat.Dense)
	covs.Mul(projMat.T(), projMat)
	p.covMat.Add(p.covMat, covs)
}

func (p *DynamicPCA) recenter() {
	n := float64(p.sampleN)
	newSampN := p.sampleN / 10
	for i := 0; i < p.dims; i++ {
		c := p.sums[i] / n
		p.centers[i] = c
		p.sums[i] = c * float64(newSampN)
	}

	m := new(mat.Dense)
	m.Scale(float64(newSampN)/n, p.covMat)
	p.covMat = m
	p.sampleN = newSampN
}

func (p *DynamicPCA) rotate() bool {
	_, basisSize := p.basis.Dims()
	covs := make([]float64, basisSize*basisSize)
	for i := 0; i < basisSize; i++ {
		for j := 0; j < basisSize; j++ {
			covs[i*basisSize+j] = p.covMat.At(i, j) / float64(p.sampleN)
		}
	}
	covMat := mat.NewSymDense(basisSize, covs)

	eVals, eVecs, ok := factorize(covMat, basisSize)
	if !ok {
		return false
	}

	if computeConvergence(eVecs) > convCritFloor {
		p.covMat = mat.NewDense(basisSize, basisSize, nil)
		for i := 0; i < basisSize; i++ {
			p.covMat.Set(i, i, eVals[i]*float64(p.sampleN))
		}
		p.basis.Mul(p.basis, eVecs)
	}
	return true
}

func factorize(symMat *mat.SymDense, basisSize int) (eVals []float64, eVecs *mat.Dense, ok bool) {
	var eigsym mat.EigenSym
	if !eigsym.Factorize(symMat, true) {
		return nil, nil, false
	}

	vars := eigsym.Values(nil)
	eVecs = new(mat.Dense)
	eigsym.VectorsTo(eVecs)

	perm := make([]int, basisSize)
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(i, j int) bool { return vars[perm[i]] > vars[perm[j]] })

	eVals = make([]float64, basisSize)
	for i, index := range perm {
		eVals[i] = vars[index]
	}
	permMat := new(mat.Dense)
	permMat.Permutation(basisSize, perm)
	eVecs.Mul(eVecs, permMat)

	return eVals, eVecs, true
}

func computeConvergence(ev *mat.Dense) float64 {
	r, c := ev.Dims()
	var convCrit float64
	for j := 0; j < c; j++ {
		var maxJ, sum float64
		for i := 0; i < r; i++ {
			v := ev.At(i, j)
			v *= v
			sum += v
			if v > maxJ {
				maxJ = v
			}
		}
		convCrit += sum - maxJ
	}
	return convCrit / float64(c)
}

// String reports the tracker's current sample count and (after a forced
// recenter) its covariance matrix, for end-of-run diagnostics.
func (p *DynamicPCA) String() string {
	p.recenter()
	var m mat.Dense
	m.Scale(1/float64(p.sampleN), p.covMat)
	return fmt.Sprintf("samples=%d\ncovariance:\n%.3v", p.sampleN, mat.Formatted(&m))
}
