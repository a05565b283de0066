package bitstream

// Writer writes bits MSB-first into a growing byte slice. It is the inverse
// of [Reader] and is used to build parameter sets.
type Writer struct {
	data   []byte
	bitPos int
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteBit appends a single bit.
func (w *Writer) WriteBit(b uint32) {
	if w.bitPos%8 == 0 {
		w.data = append(w.data, 0)
	}
	if b&1 == 1 {
		w.data[w.bitPos/8] |= 0x80 >> uint(w.bitPos%8)
	}
	w.bitPos++
}

// WriteFlag appends a boolean as one bit.
func (w *Writer) WriteFlag(v bool) {
	if v {
		w.WriteBit(1)
	} else {
		w.WriteBit(0)
	}
}

// WriteBits appends the low n bits of v, most significant first.
func (w *Writer) WriteBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(uint32(v>>uint(i)) & 1)
	}
}

// WriteUE appends v as an unsigned Exp-Golomb code.
func (w *Writer) WriteUE(v uint32) {
	x := uint64(v) + 1
	n := 0
	for t := x; t > 1; t >>= 1 {
		n++
	}
	w.WriteBits(0, n)
	w.WriteBits(x, n+1)
}

// WriteSE appends v as a signed Exp-Golomb code.
func (w *Writer) WriteSE(v int32) {
	if v > 0 {
		w.WriteUE(uint32(v)*2 - 1)
		return
	}
	w.WriteUE(uint32(-int64(v)) * 2)
}

// WriteTrailingBits appends rbsp_trailing_bits: a stop bit followed by zero
// bits up to the next byte boundary.
func (w *Writer) WriteTrailingBits() {
	w.WriteBit(1)
	for w.bitPos%8 != 0 {
		w.WriteBit(0)
	}
}

// Len returns the number of bits written.
func (w *Writer) Len() int {
	return w.bitPos
}

// Bytes returns the written data. A partial final byte is zero padded.
func (w *Writer) Bytes() []byte {
	return w.data
}
