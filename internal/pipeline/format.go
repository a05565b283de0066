package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned by ParseFormat for unknown names.
var ErrUnsupportedFormat = errors.New("pipeline: unsupported input format")

// Format is the container of a pipeline input.
type Format int

const (
	// FormatAnnexB is a raw Annex-B elementary stream.
	FormatAnnexB Format = iota
	// FormatMPEGTS is an MPEG transport stream carrying one H.264 or H.265
	// video stream.
	FormatMPEGTS
)

func (f Format) String() string {
	switch f {
	case FormatAnnexB:
		return "annexb"
	case FormatMPEGTS:
		return "mpegts"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat maps a format name to a Format. Matching is case-insensitive;
// the empty string selects FormatAnnexB.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "annexb", "annex-b", "es", "raw":
		return FormatAnnexB, nil
	case "ts", "mpegts", "mpeg-ts", "m2ts":
		return FormatMPEGTS, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}
