package choicestream

// Kind tags whether a read drew from the structural or the value stream
// (spec.md glossary: "Structural vs. value choice").
type Kind uint8

const (
	Structural Kind = iota
	Value
)

func (k Kind) String() string {
	if k == Structural {
		return "structural"
	}
	return "value"
}

// AccessEntry records one read in the order it happened, so that mutation
// can replay the exact same interleaving when regenerating an input
// (spec.md §3 "Split Choice Record" / §9 "Two streams, one ordering").
type AccessEntry struct {
	Kind Kind
	// Pos is the index within the corresponding stream (structure_bytes
	// or value_bytes) that this read consumed.
	Pos int
}

// Split is the split-stream implementation backing the behavioral-diversity
// (bedivfuzz) engine (spec.md §4.1). It is backed by two independent byte
// vectors, each with its own cursor, plus a merged access log.
type Split struct {
	structure []byte
	value     []byte

	structCursor int
	valueCursor  int

	fixedSize bool
	structSrc ByteSource
	valueSrc  ByteSource

	log []AccessEntry
}

// NewSplit builds a Split stream over the given structure/value vectors.
func NewSplit(structure, value []byte, fixedSize bool, structSrc, valueSrc ByteSource) *Split {
	s := &Split{fixedSize: fixedSize, structSrc: structSrc, valueSrc: valueSrc}
	s.structure = append([]byte(nil), structure...)
	s.value = append([]byte(nil), value...)
	return s
}

// ReadByte satisfies the Stream interface by reading from the value
// stream; callers that need to distinguish structural from value reads
// should use ReadStructural/ReadValue directly instead.
func (s *Split) ReadByte() (byte, bool) {
	return s.ReadValue()
}

// ReadStructural consumes the next structural byte.
func (s *Split) ReadStructural() (byte, bool) {
	return s.read(Structural)
}

// ReadValue consumes the next value byte.
func (s *Split) ReadValue() (byte, bool) {
	return s.read(Value)
}

func (s *Split) read(kind Kind) (byte, bool) {
	var (
		buf    *[]byte
		cursor *int
		src    ByteSource
	)
	switch kind {
	case Structural:
		buf, cursor, src = &s.structure, &s.structCursor, s.structSrc
	case Value:
		buf, cursor, src = &s.value, &s.valueCursor, s.valueSrc
	}

	if *cursor < len(*buf) {
		b := (*buf)[*cursor]
		pos := *cursor
		*cursor++
		s.log = append(s.log, AccessEntry{Kind: kind, Pos: pos})
		return b, true
	}
	if s.fixedSize || src == nil {
		return 0, false
	}
	b := src.NextByte()
	*buf = append(*buf, b)
	pos := *cursor
	*cursor++
	s.log = append(s.log, AccessEntry{Kind: kind, Pos: pos})
	return b, true
}

// StructureBytes returns the concrete structural vector consumed so far.
func (s *Split) StructureBytes() []byte { return append([]byte(nil), s.structure...) }

// ValueBytes returns the concrete value vector consumed so far.
func (s *Split) ValueBytes() []byte { return append([]byte(nil), s.value...) }

// AccessLog returns the recorded read interleaving.
func (s *Split) AccessLog() []AccessEntry { return append([]AccessEntry(nil), s.log...) }

// Bytes returns the concrete structure and value bytes consumed so far,
// concatenated, satisfying the Stream interface.
func (s *Split) Bytes() []byte { return append(s.StructureBytes(), s.value...) }
