package nalu

// Aligner re-frames an arbitrarily chunked Annex-B byte stream so that every
// buffer it releases starts at a start code and ends just before the next
// one. Transports that cut the stream at arbitrary byte offsets (SRT, files)
// go through an Aligner before reaching a reconstructor.
type Aligner struct {
	buf []byte
}

// Write appends chunk and returns the complete NAL units accumulated so far,
// or nil while the unit at the tail is still open. The returned slice is a
// copy the caller owns.
func (a *Aligner) Write(chunk []byte) []byte {
	a.buf = append(a.buf, chunk...)

	indices := FindIndices(a.buf)
	if len(indices) == 0 {
		// Keep enough bytes to recognise a start code split across writes.
		if keep := LongStartCodeSize; len(a.buf) > keep {
			a.buf = append(a.buf[:0], a.buf[len(a.buf)-keep:]...)
		}
		return nil
	}
	if len(indices) < 2 {
		if first := indices[0].StartOffset; first > 0 {
			a.buf = append(a.buf[:0], a.buf[first:]...)
		}
		return nil
	}

	first := indices[0].StartOffset
	last := indices[len(indices)-1].StartOffset
	out := make([]byte, last-first)
	copy(out, a.buf[first:last])
	a.buf = append(a.buf[:0], a.buf[last:]...)
	return out
}

// Flush returns whatever remains from the first start code on and resets the
// Aligner. It is called once the stream has ended.
func (a *Aligner) Flush() []byte {
	defer func() { a.buf = a.buf[:0] }()
	indices := FindIndices(a.buf)
	if len(indices) == 0 {
		return nil
	}
	out := make([]byte, len(a.buf)-indices[0].StartOffset)
	copy(out, a.buf[indices[0].StartOffset:])
	return out
}

// Buffered returns the number of bytes held back.
func (a *Aligner) Buffered() int {
	return len(a.buf)
}
