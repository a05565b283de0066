// Package bitstream provides MSB-first bit cursors over byte slices, with the
// Exp-Golomb codes used throughout H.264/H.265 parameter-set syntax.
//
// Every read is bounds checked before the cursor moves: a failed read leaves
// the cursor where it was and returns [ErrEndOfStream].
package bitstream

import "errors"

// Sentinel errors returned by [Reader].
var (
	ErrEndOfStream    = errors.New("bitstream: end of stream")
	ErrTooManyBits    = errors.New("bitstream: read wider than 32 bits")
	ErrGolombOverflow = errors.New("bitstream: exp-golomb code exceeds 32 bits")
)

// Reader reads bits MSB-first from a byte slice.
type Reader struct {
	data   []byte
	bitPos int
}

// NewReader returns a Reader positioned at the first bit of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	return len(r.data)*8 - r.bitPos
}

// Position returns the current bit offset from the start of the data.
func (r *Reader) Position() int {
	return r.bitPos
}

// ReadBit returns the next bit and advances the cursor by one.
func (r *Reader) ReadBit() (uint32, error) {
	if r.bitPos >= len(r.data)*8 {
		return 0, ErrEndOfStream
	}
	b := uint32(r.data[r.bitPos/8]>>(7-uint(r.bitPos%8))) & 1
	r.bitPos++
	return b, nil
}

// ReadFlag reads a single bit as a boolean.
func (r *Reader) ReadFlag() (bool, error) {
	b, err := r.ReadBit()
	return b == 1, err
}

// ReadBits reads n bits (0..32) as a big-endian unsigned integer.
func (r *Reader) ReadBits(n int) (uint32, error) {
	if n < 0 || n > 32 {
		return 0, ErrTooManyBits
	}
	if n > r.BitsLeft() {
		return 0, ErrEndOfStream
	}
	var val uint32
	for i := 0; i < n; i++ {
		b, _ := r.ReadBit()
		val = val<<1 | b
	}
	return val, nil
}

// Skip advances the cursor by n bits without decoding them.
func (r *Reader) Skip(n int) error {
	if n < 0 || n > r.BitsLeft() {
		return ErrEndOfStream
	}
	r.bitPos += n
	return nil
}
