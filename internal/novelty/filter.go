package novelty

import "github.com/hemipt-dev/hemipt/internal/covmap"

// Outcome is the Novelty Filter's verdict for one trial (spec.md §4.3).
type Outcome int

const (
	Redundant Outcome = iota
	NewBranch
	NewBucket
)

func (o Outcome) String() string {
	switch o {
	case NewBranch:
		return "NEW_BRANCH"
	case NewBucket:
		return "NEW_BUCKET"
	default:
		return "REDUNDANT"
	}
}

// Filter decides whether a trial's coverage map is novel relative to
// everything observed (and saved) so far.
//
// Two distinct pieces of state back the decision, per spec.md §3/§4.3:
//   - "G", the process-wide Cumulative Coverage map, which folds in
//     *every* SUCCESS trial regardless of admission, drives NEW_BRANCH
//     (spec.md §3: "Cumulative Coverage mutates only from Trial Runner on
//     SUCCESS outcomes" — unconditional on novelty).
//   - ceiling, the pointwise-max bucket ever reached *by a saved input*
//     for each branch, drives NEW_BUCKET ("the maximum bucket ever seen
//     for that branch in a saved input", spec.md §4.3). This is
//     necessarily a separate table from G: G accumulates raw hit counts
//     across all valid runs (saved or not), while the bucket ceiling only
//     advances when an input is actually admitted to the corpus.
//
// spec.md §4.8 lists "fold into cumulative coverage" before "run Novelty
// Filter" for a SUCCESS trial, which — taken literally — would make
// NEW_BRANCH unreachable (G already contains the trial's own counts by
// the time the filter runs). We resolve this ambiguity by classifying
// against the cumulative map's state *before* this trial's fold (see
// DESIGN.md); the fold into G still happens unconditionally on every
// SUCCESS per spec.md §3, independent of admission.
type Filter struct {
	ceiling Signature
	saveAll bool
	blind   bool
}

// NewFilter builds an empty Filter. If saveAll is set, Classify's verdict
// is still computed (for reporting) but the caller should admit
// REDUNDANT inputs too (spec.md §4.3 admission policy). If blind is set,
// Classify always reports NEW_BRANCH so every successful trial is saved,
// without ever consulting cumulative coverage or the bucket ceiling.
// Blind mode does not change how inputs are produced: the Scheduler still
// mutates corpus parents, and saved inputs keep the CreationOutcome the
// Scheduler gave them.
func NewFilter(saveAll, blind bool) *Filter {
	return &Filter{ceiling: make(Signature), saveAll: saveAll, blind: blind}
}

// SaveAll reports whether save_all mode is active.
func (f *Filter) SaveAll() bool { return f.saveAll }

// Blind reports whether the novelty filter is bypassed.
func (f *Filter) Blind() bool { return f.blind }

// Classify decides NEW_BRANCH / NEW_BUCKET / REDUNDANT for a trial's
// coverage map, given the cumulative map's state from before this
// trial's fold.
func (f *Filter) Classify(trial *covmap.Map, cumulativeBeforeFold *covmap.Map) Outcome {
	if f.blind {
		return NewBranch
	}
	outcome := Redundant
	for _, id := range trial.NonZeroIndices() {
		if cumulativeBeforeFold.ValueAt(id) == 0 {
			return NewBranch
		}
	}
	for _, id := range trial.NonZeroIndices() {
		bucket := BucketOf(trial.ValueAt(id))
		if ceilBucket, ok := f.ceiling[id]; !ok || bucket > ceilBucket {
			outcome = NewBucket
		}
	}
	return outcome
}

// Admit records sig's buckets into the ceiling table, raising it
// pointwise. Call this only for inputs that are actually saved (spec.md
// §4.3 admission policy), including save_all admissions.
func (f *Filter) Admit(sig Signature) {
	for branch, bucket := range sig {
		if cur, ok := f.ceiling[branch]; !ok || bucket > cur {
			f.ceiling[branch] = bucket
		}
	}
}
