package nalu

import "errors"

// Sentinel errors shared by the parameter-set decoders. Callers distinguish
// failure modes with errors.Is; truncated input surfaces as
// bitstream.ErrEndOfStream instead.
var (
	ErrNotAnSPS               = errors.New("nalu: not a sequence parameter set")
	ErrInvalidScalingList     = errors.New("nalu: invalid scaling list")
	ErrInvalidSPS             = errors.New("nalu: invalid sequence parameter set")
	ErrInvalidReferencePicSet = errors.New("nalu: invalid short-term reference picture set")
	ErrUnsupportedCodec       = errors.New("nalu: unsupported codec")
)
