// Package choicestream implements the byte-stream abstraction that backs
// generators (spec.md §4.1). Generators pull pseudo-random bytes from a
// Stream; EOF tells a generator to stop expanding recursive structures.
package choicestream

// Stream is implemented by both the linear and split choice streams.
//
// ReadByte returns the next pseudo-random byte. If the stream is
// fixed-size and exhausted, ok is false (EOF); the caller (a generator)
// must treat that as a signal to stop, not as an error.
type Stream interface {
	ReadByte() (b byte, ok bool)

	// Bytes returns the concrete byte vector consumed (and, for
	// extensible streams, generated) so far. This is what the Corpus
	// persists (spec.md §4.1 "the resulting concrete vector is what the
	// Corpus stores").
	Bytes() []byte
}

// ByteSource supplies fresh random bytes to extend a stream past its
// initial content. In production this is a seeded math/rand.Rand; in
// tests it is typically a fixed byte queue for determinism.
type ByteSource interface {
	// NextByte returns one fresh pseudo-random byte.
	NextByte() byte
}
