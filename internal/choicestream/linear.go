package choicestream

// Linear is the flat byte-stream implementation of Stream (spec.md §4.1).
//
// It is backed by a fixed byte vector plus a read cursor. If fixedSize is
// set and the cursor reaches the end, further reads return EOF; otherwise
// further reads return fresh random bytes appended to the vector, growing
// the input ("stream extension"). The teacher's seedCopier
// (Jiliac-hemipt/input_gen.go) is the degenerate case of this: a Linear
// stream built fixed-size over exactly the seed bytes.
type Linear struct {
	buf       []byte
	cursor    int
	fixedSize bool
	src       ByteSource
}

// NewLinear builds a Linear stream over buf. If fixedSize is true, reads
// past len(buf) return EOF; otherwise the source supplies extension bytes
// which are appended to buf as they're consumed.
func NewLinear(buf []byte, fixedSize bool, src ByteSource) *Linear {
	// Defensive copy: the corpus owns buf afterwards and must not see it
	// mutated by extension.
	owned := make([]byte, len(buf))
	copy(owned, buf)
	return &Linear{buf: owned, fixedSize: fixedSize, src: src}
}

func (l *Linear) ReadByte() (b byte, ok bool) {
	if l.cursor < len(l.buf) {
		b = l.buf[l.cursor]
		l.cursor++
		return b, true
	}
	if l.fixedSize || l.src == nil {
		return 0, false
	}
	b = l.src.NextByte()
	l.buf = append(l.buf, b)
	l.cursor++
	return b, true
}

func (l *Linear) Bytes() []byte {
	out := make([]byte, len(l.buf))
	copy(out, l.buf)
	return out
}
