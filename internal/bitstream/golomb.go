package bitstream

// maxLeadingZeros bounds ue(v) so the decoded value fits in 32 bits.
const maxLeadingZeros = 31

// ReadUE decodes an unsigned Exp-Golomb code, ue(v).
func (r *Reader) ReadUE() (uint32, error) {
	start := r.bitPos
	zeros := 0
	for {
		b, err := r.ReadBit()
		if err != nil {
			r.bitPos = start
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > maxLeadingZeros {
			r.bitPos = start
			return 0, ErrGolombOverflow
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := r.ReadBits(zeros)
	if err != nil {
		r.bitPos = start
		return 0, err
	}
	return uint32(1<<uint(zeros)-1) + suffix, nil
}

// ReadSE decodes a signed Exp-Golomb code, se(v). Odd codes map to positive
// values and even codes to non-positive ones: 0, 1, -1, 2, -2, ...
func (r *Reader) ReadSE() (int32, error) {
	v, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int32(v / 2), nil
	}
	return int32(v/2) + 1, nil
}
