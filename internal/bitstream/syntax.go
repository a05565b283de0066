package bitstream

import "fmt"

// FieldError records which syntax element was being decoded when a read
// failed.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// SyntaxReader decodes named syntax elements on top of a [Reader]. The first
// failure is kept and every later read returns zero without touching the
// cursor, so a parser can read a run of fields and check [SyntaxReader.Err]
// before acting on any of them.
type SyntaxReader struct {
	r   *Reader
	err error
}

// NewSyntaxReader returns a SyntaxReader over data.
func NewSyntaxReader(data []byte) *SyntaxReader {
	return &SyntaxReader{r: NewReader(data)}
}

// Err returns the first error encountered, if any.
func (s *SyntaxReader) Err() error {
	return s.err
}

// BitsLeft returns the number of unread bits.
func (s *SyntaxReader) BitsLeft() int {
	return s.r.BitsLeft()
}

func (s *SyntaxReader) fail(field string, err error) {
	if s.err == nil {
		s.err = &FieldError{Field: field, Err: err}
	}
}

// U reads an n-bit unsigned field, u(n).
func (s *SyntaxReader) U(n int, field string) uint32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadBits(n)
	if err != nil {
		s.fail(field, err)
		return 0
	}
	return v
}

// Flag reads a one-bit field.
func (s *SyntaxReader) Flag(field string) bool {
	return s.U(1, field) == 1
}

// UE reads an unsigned Exp-Golomb field, ue(v).
func (s *SyntaxReader) UE(field string) uint32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadUE()
	if err != nil {
		s.fail(field, err)
		return 0
	}
	return v
}

// SE reads a signed Exp-Golomb field, se(v).
func (s *SyntaxReader) SE(field string) int32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadSE()
	if err != nil {
		s.fail(field, err)
		return 0
	}
	return v
}

// Skip discards n bits belonging to field.
func (s *SyntaxReader) Skip(n int, field string) {
	if s.err != nil {
		return
	}
	if err := s.r.Skip(n); err != nil {
		s.fail(field, err)
	}
}
