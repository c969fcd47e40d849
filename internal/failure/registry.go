// Package failure implements the Failure Registry and failure
// fingerprinting (spec.md §3 "Failure Registry", §4.8 step 5, §7).
package failure

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Fingerprint is the hash of (exception class, topmost user-relevant
// stack frame) used to deduplicate failures (spec.md glossary).
type Fingerprint uint64

// Compute hashes an exception class name and the topmost stack frame
// above the user-supplied boundary into a Fingerprint.
func Compute(class, topFrame string) Fingerprint {
	h := fnv.New64a()
	_, _ = h.Write([]byte(class))
	_, _ = h.Write([]byte{0}) // separator, avoids "ab"+"c" colliding with "a"+"bc"
	_, _ = h.Write([]byte(topFrame))
	return Fingerprint(h.Sum64())
}

// TimeoutClass is the distinguished exception class used for trials that
// exceeded runTimeout (spec.md §4.8, §7 "Timeout").
const TimeoutClass = "Timeout"

// TimeoutFingerprint returns the distinguished "timeout" fingerprint.
// Every timeout shares one fingerprint regardless of where it occurred,
// matching spec.md §4.8's "a distinguished 'timeout' fingerprint".
func TimeoutFingerprint() Fingerprint {
	return Compute(TimeoutClass, "")
}

// Registry is the process-wide map from Fingerprint to the id of the
// first Input that produced it. Entries never removed (spec.md §3).
type Registry struct {
	mu   sync.Mutex
	seen map[Fingerprint]uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[Fingerprint]uint64)}
}

// Record registers fp as produced by inputID if it hasn't been seen
// before. It returns true the first time a given fingerprint is
// recorded (the caller should persist the failure only on that first
// occurrence, per spec.md §3 "at most one saved file per fingerprint").
func (r *Registry) Record(fp Fingerprint, inputID uint64) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[fp]; ok {
		return false
	}
	r.seen[fp] = inputID
	return true
}

// Len returns the number of distinct fingerprints recorded so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// FirstInput returns the id of the input that first produced fp, if any.
func (r *Registry) FirstInput(fp Fingerprint) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.seen[fp]
	return id, ok
}

// FileName returns the conventional failures/ basename for an input id,
// per spec.md §4.8 step 5 ("persist the Input under failures/ named by
// id").
func FileName(inputID uint64) string {
	return fmt.Sprintf("%d", inputID)
}

// StacktraceFileName returns the conventional sibling file name for a
// failure's exception trace (spec.md §4.8 step 5).
func StacktraceFileName(inputID uint64) string {
	return fmt.Sprintf("%d.stacktrace", inputID)
}
