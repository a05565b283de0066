package nalu

// Start code lengths for Annex-B framing.
const (
	ShortStartCodeSize = 3
	LongStartCodeSize  = 4
)

// Index locates one NAL unit inside a buffer. Offsets are relative to the
// buffer passed to [FindIndices].
type Index struct {
	// StartOffset is the position of the start code (3 or 4 bytes).
	StartOffset int
	// PayloadStartOffset is the position of the NAL header.
	PayloadStartOffset int
	// PayloadSize counts bytes from PayloadStartOffset up to the next start
	// code or the end of the buffer.
	PayloadSize int
}

// End returns the offset one past the last payload byte.
func (ix Index) End() int {
	return ix.PayloadStartOffset + ix.PayloadSize
}

// Payload returns the NAL unit without its start code.
func (ix Index) Payload(buf []byte) []byte {
	return buf[ix.PayloadStartOffset:ix.End()]
}

// Unit returns the NAL unit including its start code.
func (ix Index) Unit(buf []byte) []byte {
	return buf[ix.StartOffset:ix.End()]
}

// FindIndices scans buf for Annex-B start codes and returns one Index per NAL
// unit in scan order. Each unit extends to the next start code, the last one
// to the end of buf. Buffers without a start code yield no indices.
func FindIndices(buf []byte) []Index {
	if len(buf) < ShortStartCodeSize {
		return nil
	}

	// Only the third byte of a candidate window is inspected first: a value
	// above 1 rules out a start code ending anywhere in the window.
	var indices []Index
	end := len(buf) - ShortStartCodeSize
	for i := 0; i < end; {
		switch {
		case buf[i+2] > 1:
			i += 3
		case buf[i+2] == 1:
			if buf[i+1] == 0 && buf[i] == 0 {
				ix := Index{StartOffset: i, PayloadStartOffset: i + 3}
				if ix.StartOffset > 0 && buf[ix.StartOffset-1] == 0 {
					ix.StartOffset--
				}
				if n := len(indices); n > 0 {
					indices[n-1].PayloadSize = ix.StartOffset - indices[n-1].PayloadStartOffset
				}
				indices = append(indices, ix)
			}
			i += 3
		default:
			i++
		}
	}

	if n := len(indices); n > 0 {
		indices[n-1].PayloadSize = len(buf) - indices[n-1].PayloadStartOffset
	}
	return indices
}
