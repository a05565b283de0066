package h265

import (
	"fmt"
	"math/bits"

	"github.com/zsiec/nalcore/internal/bitstream"
)

// ProfileTierLevel holds the general profile_tier_level fields. Sub-layer
// entries are walked but not retained.
type ProfileTierLevel struct {
	ProfileSpace              uint8
	TierFlag                  uint8
	ProfileIDC                uint8
	ProfileCompatibilityFlags uint32
	// ConstraintIndicatorFlags packs the 48 bits following the
	// compatibility flags: source and constraint flags, the 43
	// profile-specific bits and general_inbld_flag.
	ConstraintIndicatorFlags uint64
	LevelIDC                 uint8
}

// CodecString returns the RFC 6381 codec parameter string, e.g.
// "hev1.1.6.L93.B0".
func (p ProfileTierLevel) CodecString() string {
	tier := "L"
	if p.TierFlag == 1 {
		tier = "H"
	}
	space := ""
	if p.ProfileSpace > 0 {
		space = string(rune('A' + p.ProfileSpace - 1))
	}

	var constraint [6]byte
	for i := range constraint {
		constraint[i] = byte(p.ConstraintIndicatorFlags >> uint((5-i)*8))
	}
	last := -1
	for i := len(constraint) - 1; i >= 0; i-- {
		if constraint[i] != 0 {
			last = i
			break
		}
	}

	codec := fmt.Sprintf("hev1.%s%d.%X.%s%d", space, p.ProfileIDC,
		bits.Reverse32(p.ProfileCompatibilityFlags), tier, p.LevelIDC)
	for i := 0; i <= last; i++ {
		codec += fmt.Sprintf(".%X", constraint[i])
	}
	return codec
}

// parseProfileTierLevel reads profile_tier_level(1, maxSubLayersMinus1).
func parseProfileTierLevel(r *bitstream.SyntaxReader, maxSubLayersMinus1 int) ProfileTierLevel {
	var p ProfileTierLevel
	p.ProfileSpace = uint8(r.U(2, "general_profile_space"))
	p.TierFlag = uint8(r.U(1, "general_tier_flag"))
	p.ProfileIDC = uint8(r.U(5, "general_profile_idc"))
	p.ProfileCompatibilityFlags = r.U(32, "general_profile_compatibility_flags")
	hi := uint64(r.U(32, "general_constraint_flags"))
	lo := uint64(r.U(16, "general_constraint_flags"))
	p.ConstraintIndicatorFlags = hi<<16 | lo
	p.LevelIDC = uint8(r.U(8, "general_level_idc"))

	if maxSubLayersMinus1 == 0 {
		return p
	}

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := 0; i < maxSubLayersMinus1; i++ {
		profilePresent[i] = r.Flag("sub_layer_profile_present_flag")
		levelPresent[i] = r.Flag("sub_layer_level_present_flag")
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		r.Skip(2, "reserved_zero_2bits")
	}
	for i := 0; i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			// space, tier, idc, compatibility and constraint flags
			r.Skip(88, "sub_layer_profile")
		}
		if levelPresent[i] {
			r.Skip(8, "sub_layer_level_idc")
		}
	}
	return p
}
