package choicestream

import "math/rand"

// RandSource adapts *rand.Rand to ByteSource. Fuzzing determinism (spec.md
// §8 property 5) depends on every stream extension and mutation draw going
// through a single seeded *rand.Rand passed down from the scheduler.
type RandSource struct {
	Rng *rand.Rand
}

func (r RandSource) NextByte() byte {
	return byte(r.Rng.Intn(256))
}
