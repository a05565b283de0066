package nalu

import (
	"fmt"
	"strings"
)

// Type is a codec-specific NAL unit type.
type Type uint8

// H.264 NAL unit types, ITU-T H.264 Table 7-1.
const (
	H264TypeSlice         Type = 1
	H264TypeDPA           Type = 2
	H264TypeDPB           Type = 3
	H264TypeDPC           Type = 4
	H264TypeIDR           Type = 5
	H264TypeSEI           Type = 6
	H264TypeSPS           Type = 7
	H264TypePPS           Type = 8
	H264TypeAUD           Type = 9
	H264TypeEndOfSequence Type = 10
	H264TypeEndOfStream   Type = 11
	H264TypeFiller        Type = 12
	H264TypePrefix        Type = 14
	H264TypeStapA         Type = 24
	H264TypeFuA           Type = 28
)

// H.265 NAL unit types, ITU-T H.265 Table 7-1.
const (
	H265TypeTrailN    Type = 0
	H265TypeTrailR    Type = 1
	H265TypeTsaN      Type = 2
	H265TypeTsaR      Type = 3
	H265TypeStsaN     Type = 4
	H265TypeStsaR     Type = 5
	H265TypeRadlN     Type = 6
	H265TypeRadlR     Type = 7
	H265TypeBlaWLp    Type = 16
	H265TypeBlaWRadl  Type = 17
	H265TypeBlaNLp    Type = 18
	H265TypeIDRWRadl  Type = 19
	H265TypeIDRNLp    Type = 20
	H265TypeCra       Type = 21
	H265TypeVPS       Type = 32
	H265TypeSPS       Type = 33
	H265TypePPS       Type = 34
	H265TypeAUD       Type = 35
	H265TypeFiller    Type = 38
	H265TypePrefixSEI Type = 39
	H265TypeSuffixSEI Type = 40
	H265TypeAP        Type = 48
	H265TypeFU        Type = 49
)

const (
	h264TypeMask = 0x1F
	h265TypeMask = 0x7E
)

// Codec identifies the elementary stream format of a video session.
type Codec int

// Supported codecs.
const (
	CodecUnknown Codec = iota
	H264
	H265
)

// ParseCodec maps an announced codec name (as found in SDP rtpmap lines or
// configuration) to a Codec. Matching is case-insensitive.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h264", "avc", "avc1":
		return H264, nil
	case "h265", "hevc", "hev1", "hvc1":
		return H265, nil
	}
	return CodecUnknown, fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
}

func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case H265:
		return "h265"
	}
	return "unknown"
}

// HeaderSize returns the NAL unit header length in bytes.
func (c Codec) HeaderSize() int {
	if c == H265 {
		return 2
	}
	return 1
}

// Type extracts the NAL unit type from the first header byte.
func (c Codec) Type(b byte) Type {
	if c == H265 {
		return Type((b & h265TypeMask) >> 1)
	}
	return Type(b & h264TypeMask)
}

// IsSPS reports whether t is a sequence parameter set.
func (c Codec) IsSPS(t Type) bool {
	if c == H265 {
		return t == H265TypeSPS
	}
	return t == H264TypeSPS
}

// IsPPS reports whether t is a picture parameter set.
func (c Codec) IsPPS(t Type) bool {
	if c == H265 {
		return t == H265TypePPS
	}
	return t == H264TypePPS
}

// IsVPS reports whether t is a video parameter set. H.264 has none.
func (c Codec) IsVPS(t Type) bool {
	return c == H265 && t == H265TypeVPS
}

// IsSEI reports whether t carries supplemental enhancement information.
func (c Codec) IsSEI(t Type) bool {
	if c == H265 {
		return t == H265TypePrefixSEI || t == H265TypeSuffixSEI
	}
	return t == H264TypeSEI
}

// IsKeyframe reports whether t starts a picture decodable without earlier
// pictures: IDR for H.264, BLA/IDR/CRA for H.265.
func (c Codec) IsKeyframe(t Type) bool {
	if c == H265 {
		return t >= H265TypeBlaWLp && t <= H265TypeCra
	}
	return t == H264TypeIDR
}

// H264Type extracts the H.264 NAL unit type from a header byte.
func H264Type(b byte) Type {
	return H264.Type(b)
}

// H265Type extracts the H.265 NAL unit type from the first header byte.
func H265Type(b byte) Type {
	return H265.Type(b)
}
