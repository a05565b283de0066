package h264

import (
	"fmt"

	"github.com/zsiec/nalcore/internal/bitstream"
	"github.com/zsiec/nalcore/internal/nalu"
)

// Syntax bounds enforced while decoding.
const (
	// maxLog2Minus4 keeps log2_max_frame_num and log2_max_pic_order_cnt_lsb
	// within a 32-bit shift.
	maxLog2Minus4 = 32 - 4

	minScalingDelta = -128
	maxScalingDelta = 127

	maxPocCycle = 255

	extendedSAR = 255
)

// highProfiles carry chroma_format_idc, bit depths and scaling matrices.
var highProfiles = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// SPS holds the structural fields of an H.264 sequence parameter set.
// Width and Height are display dimensions after frame cropping.
type SPS struct {
	ID              uint32
	ProfileIDC      uint8
	ConstraintFlags uint8
	LevelIDC        uint8

	ChromaFormatIDC         uint32
	SeparateColourPlaneFlag bool
	BitDepthLuma            uint32
	BitDepthChroma          uint32

	Log2MaxFrameNum             uint32
	PicOrderCntType             uint32
	Log2MaxPicOrderCntLsb       uint32
	DeltaPicOrderAlwaysZeroFlag bool
	MaxNumRefFrames             uint32
	FrameMbsOnlyFlag            bool

	Width  int
	Height int
	Crop   Crop

	VUI VUI
}

// Crop is the frame cropping rectangle as coded, in crop units.
type Crop struct {
	Left, Right, Top, Bottom uint32
}

// VUI carries the video usability fields this package decodes. Decoding
// stops after the timing info.
type VUI struct {
	AspectRatioIDC     uint8
	SarWidth           uint16
	SarHeight          uint16
	VideoFullRange     bool
	ColourPrimaries    uint8
	TransferChars      uint8
	MatrixCoefficients uint8
	TimingInfoPresent  bool
	NumUnitsInTick     uint32
	TimeScale          uint32
	FixedFrameRate     bool
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.64001F".
func (s *SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameRate returns the frame rate signalled in the VUI timing info, or 0
// when the SPS carries none.
func (s *SPS) FrameRate() float64 {
	if !s.VUI.TimingInfoPresent || s.VUI.NumUnitsInTick == 0 {
		return 0
	}
	return float64(s.VUI.TimeScale) / float64(2*uint64(s.VUI.NumUnitsInTick))
}

// ParseSPS decodes an SPS NAL unit. The input is the NAL unit without its
// start code, header byte included, with emulation prevention bytes still
// present. An SPS without VUI parameters is rejected with
// nalu.ErrInvalidSPS.
func ParseSPS(data []byte) (*SPS, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("h264 sps: %w", bitstream.ErrEndOfStream)
	}
	r := bitstream.NewSyntaxReader(bitstream.RemoveEmulationPrevention(data))

	forbidden := r.U(1, "forbidden_zero_bit")
	refIdc := r.U(2, "nal_ref_idc")
	typ := r.U(5, "nal_unit_type")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h264 sps: %w", err)
	}
	if forbidden != 0 || refIdc != 3 || nalu.Type(typ) != nalu.H264TypeSPS {
		return nil, fmt.Errorf("h264 sps: header %#02x: %w", data[0], nalu.ErrNotAnSPS)
	}

	sps := &SPS{ChromaFormatIDC: 1, BitDepthLuma: 8, BitDepthChroma: 8}
	sps.ProfileIDC = uint8(r.U(8, "profile_idc"))
	sps.ConstraintFlags = uint8(r.U(8, "constraint_flags"))
	sps.LevelIDC = uint8(r.U(8, "level_idc"))
	sps.ID = r.UE("seq_parameter_set_id")

	if highProfiles[sps.ProfileIDC] {
		sps.ChromaFormatIDC = r.UE("chroma_format_idc")
		if sps.ChromaFormatIDC == 3 {
			sps.SeparateColourPlaneFlag = r.Flag("separate_colour_plane_flag")
		}
		sps.BitDepthLuma = r.UE("bit_depth_luma_minus8") + 8
		sps.BitDepthChroma = r.UE("bit_depth_chroma_minus8") + 8
		r.Skip(1, "qpprime_y_zero_transform_bypass_flag")
		if r.Flag("seq_scaling_matrix_present_flag") {
			if err := skipScalingMatrix(r, sps.ChromaFormatIDC); err != nil {
				return nil, fmt.Errorf("h264 sps: %w", err)
			}
		}
	}

	log2FrameNum := r.UE("log2_max_frame_num_minus4")
	if r.Err() == nil && log2FrameNum > maxLog2Minus4 {
		return nil, fmt.Errorf("h264 sps: log2_max_frame_num_minus4 %d: %w", log2FrameNum, nalu.ErrInvalidSPS)
	}
	sps.Log2MaxFrameNum = log2FrameNum + 4

	sps.PicOrderCntType = r.UE("pic_order_cnt_type")
	switch sps.PicOrderCntType {
	case 0:
		log2Lsb := r.UE("log2_max_pic_order_cnt_lsb_minus4")
		if r.Err() == nil && log2Lsb > maxLog2Minus4 {
			return nil, fmt.Errorf("h264 sps: log2_max_pic_order_cnt_lsb_minus4 %d: %w", log2Lsb, nalu.ErrInvalidSPS)
		}
		sps.Log2MaxPicOrderCntLsb = log2Lsb + 4
	case 1:
		sps.DeltaPicOrderAlwaysZeroFlag = r.Flag("delta_pic_order_always_zero_flag")
		r.SE("offset_for_non_ref_pic")
		r.SE("offset_for_top_to_bottom_field")
		cycle := r.UE("num_ref_frames_in_pic_order_cnt_cycle")
		if r.Err() == nil && cycle > maxPocCycle {
			return nil, fmt.Errorf("h264 sps: num_ref_frames_in_pic_order_cnt_cycle %d: %w", cycle, nalu.ErrInvalidSPS)
		}
		for i := uint32(0); i < cycle && r.Err() == nil; i++ {
			r.SE("offset_for_ref_frame")
		}
	}

	sps.MaxNumRefFrames = r.UE("max_num_ref_frames")
	r.Skip(1, "gaps_in_frame_num_value_allowed_flag")

	widthMbs := int64(r.UE("pic_width_in_mbs_minus1")) + 1
	heightMapUnits := int64(r.UE("pic_height_in_map_units_minus1")) + 1
	sps.FrameMbsOnlyFlag = r.Flag("frame_mbs_only_flag")
	if !sps.FrameMbsOnlyFlag {
		r.Skip(1, "mb_adaptive_frame_field_flag")
	}
	r.Skip(1, "direct_8x8_inference_flag")

	if r.Flag("frame_cropping_flag") {
		sps.Crop.Left = r.UE("frame_crop_left_offset")
		sps.Crop.Right = r.UE("frame_crop_right_offset")
		sps.Crop.Top = r.UE("frame_crop_top_offset")
		sps.Crop.Bottom = r.UE("frame_crop_bottom_offset")
	}

	vuiPresent := r.Flag("vui_parameters_present_flag")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h264 sps: %w", err)
	}
	if !vuiPresent {
		return nil, fmt.Errorf("h264 sps: vui parameters absent: %w", nalu.ErrInvalidSPS)
	}

	if err := sps.setDimensions(widthMbs, heightMapUnits); err != nil {
		return nil, err
	}

	// VUI fields are informational; a truncated tail keeps what decoded.
	parseVUI(r, &sps.VUI)
	return sps, nil
}

// setDimensions derives the cropped picture size. For 4:2:0 and 4:2:2 the
// horizontal offsets count chroma samples; vertical offsets scale with the
// field flag only for monochrome or separately coded planes.
func (s *SPS) setDimensions(widthMbs, heightMapUnits int64) error {
	frameFactor := int64(2)
	if s.FrameMbsOnlyFlag {
		frameFactor = 1
	}
	width := widthMbs * 16
	height := frameFactor * heightMapUnits * 16

	left, right := int64(s.Crop.Left), int64(s.Crop.Right)
	top, bottom := int64(s.Crop.Top), int64(s.Crop.Bottom)
	switch {
	case s.SeparateColourPlaneFlag || s.ChromaFormatIDC == 0:
		top *= frameFactor
		bottom *= frameFactor
	default:
		if s.ChromaFormatIDC == 1 || s.ChromaFormatIDC == 2 {
			left *= 2
			right *= 2
		}
		if s.ChromaFormatIDC == 1 {
			top *= 2
			bottom *= 2
		}
	}

	width -= left + right
	height -= top + bottom
	if width <= 0 || height <= 0 || width > 1<<16 || height > 1<<16 {
		return fmt.Errorf("h264 sps: cropped size %dx%d: %w", width, height, nalu.ErrInvalidSPS)
	}
	s.Width = int(width)
	s.Height = int(height)
	return nil
}

// skipScalingMatrix walks seq_scaling_list_present_flag and the lists it
// gates. Values are not retained.
func skipScalingMatrix(r *bitstream.SyntaxReader, chromaFormatIDC uint32) error {
	count := 8
	if chromaFormatIDC == 3 {
		count = 12
	}
	for i := 0; i < count; i++ {
		if !r.Flag("seq_scaling_list_present_flag") {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		if err := skipScalingList(r, size); err != nil {
			return err
		}
	}
	return r.Err()
}

func skipScalingList(r *bitstream.SyntaxReader, size int) error {
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta := r.SE("delta_scale")
			if err := r.Err(); err != nil {
				return err
			}
			if delta < minScalingDelta || delta > maxScalingDelta {
				return fmt.Errorf("delta_scale %d: %w", delta, nalu.ErrInvalidScalingList)
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

func parseVUI(r *bitstream.SyntaxReader, vui *VUI) {
	var v VUI
	if r.Flag("aspect_ratio_info_present_flag") {
		v.AspectRatioIDC = uint8(r.U(8, "aspect_ratio_idc"))
		if v.AspectRatioIDC == extendedSAR {
			v.SarWidth = uint16(r.U(16, "sar_width"))
			v.SarHeight = uint16(r.U(16, "sar_height"))
		}
	}
	if r.Flag("overscan_info_present_flag") {
		r.Skip(1, "overscan_appropriate_flag")
	}
	if r.Flag("video_signal_type_present_flag") {
		r.Skip(3, "video_format")
		v.VideoFullRange = r.Flag("video_full_range_flag")
		if r.Flag("colour_description_present_flag") {
			v.ColourPrimaries = uint8(r.U(8, "colour_primaries"))
			v.TransferChars = uint8(r.U(8, "transfer_characteristics"))
			v.MatrixCoefficients = uint8(r.U(8, "matrix_coefficients"))
		}
	}
	if r.Flag("chroma_loc_info_present_flag") {
		r.UE("chroma_sample_loc_type_top_field")
		r.UE("chroma_sample_loc_type_bottom_field")
	}
	v.TimingInfoPresent = r.Flag("timing_info_present_flag")
	if v.TimingInfoPresent {
		v.NumUnitsInTick = r.U(32, "num_units_in_tick")
		v.TimeScale = r.U(32, "time_scale")
		v.FixedFrameRate = r.Flag("fixed_frame_rate_flag")
	}
	if r.Err() == nil {
		*vui = v
	}
}
