package mutation

// MutateSplit produces a mutated child from a split parent. Each of the
// budget's point mutations independently targets the structure or the
// value stream according to e.StructWeight (spec.md §4.6).
//
// It does not attempt to patch the parent's access log: a structural
// mutation invalidates log entries past the mutated position, so the
// child simply starts with no log. The child's choicestream.Split records
// reads as the harness makes them (readable via the scheduler
// Candidate's Stream); trial.Runner does not copy that log back onto the
// saved Input, so an admitted split Input keeps the empty log it was
// built with.
func (e *Engine) MutateSplit(parentStructure, parentValue []byte) (childStructure, childValue []byte) {
	childStructure = append([]byte(nil), parentStructure...)
	childValue = append([]byte(nil), parentValue...)

	total := len(childStructure) + len(childValue)
	rounds := Budget(total)
	for r := 0; r < rounds; r++ {
		k := 1 + e.rng.Intn(4)
		for i := 0; i < k; i++ {
			target := &childStructure
			if e.rng.Float64() >= e.StructWeight {
				target = &childValue
			}
			if len(*target) == 0 {
				continue
			}
			offset := e.rng.Intn(len(*target))
			runLen := 1 + e.rng.Intn(4)
			e.mutateRun(*target, offset, runLen)
		}
	}
	return childStructure, childValue
}

// MutateSplitValueOnly mutates only the value stream, leaving the
// structure stream byte-for-byte identical to the parent. Used
// preferentially when the goal is to discover branch novelty within a
// fixed structural skeleton (spec.md §4.6, §8 scenario S4).
func (e *Engine) MutateSplitValueOnly(parentStructure, parentValue []byte) (childStructure, childValue []byte) {
	childStructure = append([]byte(nil), parentStructure...)
	childValue = append([]byte(nil), parentValue...)
	e.mutateBytes(childValue, Budget(len(childValue)))
	return childStructure, childValue
}
