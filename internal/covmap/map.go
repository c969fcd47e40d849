// Package covmap implements the fixed-size branch-coverage counter array
// (spec.md §4.2) shared by per-trial and cumulative coverage.
//
// The 16-bit branch id is derived by the external instrumentation; this
// package treats it as opaque. Collisions (two source branches hashed to
// the same id) reduce feedback precision but are not a correctness concern
// (spec.md §9, "Open question (collision handling)").
package covmap

// Size is the fixed capacity of the map: 2^16 - 1, odd to reduce index
// collisions (spec.md §4.2). The teacher uses a plain 2^16 (put_afl.go
// mapSizePow2/mapSize, sized for the raw AFL shared-memory segment); the
// spec's -1 adjustment is applied on top of that shared-memory region by
// treating the last cell as unused.
const Size = 1<<16 - 1

// Map is a fixed-capacity, opaque-branch-id counter array with O(k)
// enumeration of non-zero cells, where k is the number of cells touched
// since the last Clear — not the full capacity M (spec.md §4.2).
type Map struct {
	counts  [Size]uint32
	touched []uint32
	dirty   [Size]bool
}

// New returns an empty Map.
func New() *Map {
	return &Map{}
}

// Increment bumps the counter for branchID by one, recording it in the
// touched set the first time it's seen since the last Clear.
func (m *Map) Increment(branchID uint32) {
	if branchID >= Size {
		// Opaque ids are supplied by external instrumentation; an
		// out-of-range id is a collision-adjacent no-op rather than a
		// fatal condition (mirrors the teacher's tolerance of
		// instrumentation quirks in put_afl.go).
		return
	}
	if !m.dirty[branchID] {
		m.dirty[branchID] = true
		m.touched = append(m.touched, branchID)
	}
	m.counts[branchID]++
}

// ValueAt returns the current counter for branchID.
func (m *Map) ValueAt(branchID uint32) uint32 {
	if branchID >= Size {
		return 0
	}
	return m.counts[branchID]
}

// NonZeroIndices returns the branch ids touched since the last Clear, in
// first-touched order.
func (m *Map) NonZeroIndices() []uint32 {
	out := make([]uint32, len(m.touched))
	copy(out, m.touched)
	return out
}

// NonZeroValues returns the counter values parallel to NonZeroIndices.
func (m *Map) NonZeroValues() []uint32 {
	out := make([]uint32, len(m.touched))
	for i, idx := range m.touched {
		out[i] = m.counts[idx]
	}
	return out
}

// Clear resets every touched cell back to zero, in O(k).
func (m *Map) Clear() {
	for _, idx := range m.touched {
		m.counts[idx] = 0
		m.dirty[idx] = false
	}
	m.touched = m.touched[:0]
}

// Fold adds every counter in trial into m (the cumulative map), preserving
// monotonic non-decreasing cells (spec.md §3 "Cumulative Coverage"
// invariant). It never resets trial.
func (m *Map) Fold(trial *Map) {
	for _, idx := range trial.NonZeroIndices() {
		if !m.dirty[idx] {
			m.dirty[idx] = true
			m.touched = append(m.touched, idx)
		}
		m.counts[idx] += trial.ValueAt(idx)
	}
}
