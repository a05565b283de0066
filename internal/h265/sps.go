package h265

import (
	"fmt"

	"github.com/zsiec/nalcore/internal/bitstream"
	"github.com/zsiec/nalcore/internal/nalu"
)

// Syntax bounds from ITU-T H.265 section 7.4.3.2.
const (
	maxSubLayersMinus1     = 6
	maxLog2PocLsbMinus4    = 12
	maxBitDepthMinus8      = 8
	maxShortTermRefPicSets = 64
	maxLongTermRefPicsSPS  = 32
	maxPictureDimension    = 1 << 16
)

// Window is a conformance cropping window in chroma sample units.
type Window struct {
	Left, Right, Top, Bottom uint32
}

// SPS holds the fields of an H.265 sequence parameter set up to
// sps_temporal_mvp_enabled_flag. Width and Height are the display
// dimensions after the conformance window is applied.
type SPS struct {
	VPSID                   uint8
	MaxSubLayersMinus1      uint8
	TemporalIDNestingFlag   bool
	ProfileTierLevel        ProfileTierLevel
	ID                      uint32
	ChromaFormatIDC         uint32
	SeparateColourPlaneFlag bool

	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32
	ConformanceWindowFlag  bool
	ConformanceWindow      Window

	BitDepthLuma                uint32
	BitDepthChroma              uint32
	Log2MaxPicOrderCntLsbMinus4 uint32

	// MaxDecPicBufferingMinus1 has one entry per sub-layer. Without
	// sub-layer ordering info every entry holds the highest layer's value.
	MaxDecPicBufferingMinus1 []uint32

	Log2MinLumaCodingBlockSizeMinus3  uint32
	Log2DiffMaxMinLumaCodingBlockSize uint32

	ScalingListEnabledFlag          bool
	ScalingList                     *ScalingListData
	AmpEnabledFlag                  bool
	SampleAdaptiveOffsetEnabledFlag bool
	PCMEnabledFlag                  bool

	ShortTermRefPicSets []ShortTermRefPicSet

	LongTermRefPicsPresentFlag bool
	LtRefPicPocLsbSPS          []uint32
	UsedByCurrPicLtSPSFlag     []bool
	TemporalMVPEnabledFlag     bool

	Width  int
	Height int
}

// CodecString returns the RFC 6381 codec parameter string.
func (s *SPS) CodecString() string {
	return s.ProfileTierLevel.CodecString()
}

// NumShortTermRefPicSets returns num_short_term_ref_pic_sets.
func (s *SPS) NumShortTermRefPicSets() int {
	return len(s.ShortTermRefPicSets)
}

// SubWidthC returns the horizontal chroma subsampling factor.
func (s *SPS) SubWidthC() int {
	if (s.ChromaFormatIDC == 1 || s.ChromaFormatIDC == 2) && !s.SeparateColourPlaneFlag {
		return 2
	}
	return 1
}

// SubHeightC returns the vertical chroma subsampling factor.
func (s *SPS) SubHeightC() int {
	if s.ChromaFormatIDC == 1 && !s.SeparateColourPlaneFlag {
		return 2
	}
	return 1
}

// ParseSPS decodes an SPS NAL unit: the two-byte NAL header followed by
// the payload, emulation prevention bytes included.
func ParseSPS(data []byte) (*SPS, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("h265 sps: %w", bitstream.ErrEndOfStream)
	}
	r := bitstream.NewSyntaxReader(bitstream.RemoveEmulationPrevention(data))

	forbidden := r.U(1, "forbidden_zero_bit")
	typ := nalu.Type(r.U(6, "nal_unit_type"))
	r.Skip(6, "nuh_layer_id")
	r.Skip(3, "nuh_temporal_id_plus1")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h265 sps: %w", err)
	}
	if forbidden != 0 || typ != nalu.H265TypeSPS {
		return nil, fmt.Errorf("h265 sps: header %#02x: %w", data[0], nalu.ErrNotAnSPS)
	}

	sps := &SPS{}
	sps.VPSID = uint8(r.U(4, "sps_video_parameter_set_id"))
	sps.MaxSubLayersMinus1 = uint8(r.U(3, "sps_max_sub_layers_minus1"))
	sps.TemporalIDNestingFlag = r.Flag("sps_temporal_id_nesting_flag")
	if r.Err() == nil && sps.MaxSubLayersMinus1 > maxSubLayersMinus1 {
		return nil, fmt.Errorf("h265 sps: sps_max_sub_layers_minus1 %d: %w", sps.MaxSubLayersMinus1, nalu.ErrInvalidSPS)
	}
	sps.ProfileTierLevel = parseProfileTierLevel(r, int(sps.MaxSubLayersMinus1))

	sps.ID = r.UE("sps_seq_parameter_set_id")
	sps.ChromaFormatIDC = r.UE("chroma_format_idc")
	if r.Err() == nil && sps.ChromaFormatIDC > 3 {
		return nil, fmt.Errorf("h265 sps: chroma_format_idc %d: %w", sps.ChromaFormatIDC, nalu.ErrInvalidSPS)
	}
	if sps.ChromaFormatIDC == 3 {
		sps.SeparateColourPlaneFlag = r.Flag("separate_colour_plane_flag")
	}
	sps.PicWidthInLumaSamples = r.UE("pic_width_in_luma_samples")
	sps.PicHeightInLumaSamples = r.UE("pic_height_in_luma_samples")
	sps.ConformanceWindowFlag = r.Flag("conformance_window_flag")
	if sps.ConformanceWindowFlag {
		sps.ConformanceWindow.Left = r.UE("conf_win_left_offset")
		sps.ConformanceWindow.Right = r.UE("conf_win_right_offset")
		sps.ConformanceWindow.Top = r.UE("conf_win_top_offset")
		sps.ConformanceWindow.Bottom = r.UE("conf_win_bottom_offset")
	}

	bitDepthLuma := r.UE("bit_depth_luma_minus8")
	bitDepthChroma := r.UE("bit_depth_chroma_minus8")
	sps.Log2MaxPicOrderCntLsbMinus4 = r.UE("log2_max_pic_order_cnt_lsb_minus4")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h265 sps: %w", err)
	}
	if bitDepthLuma > maxBitDepthMinus8 || bitDepthChroma > maxBitDepthMinus8 {
		return nil, fmt.Errorf("h265 sps: bit depth %d/%d: %w", bitDepthLuma+8, bitDepthChroma+8, nalu.ErrInvalidSPS)
	}
	if sps.Log2MaxPicOrderCntLsbMinus4 > maxLog2PocLsbMinus4 {
		return nil, fmt.Errorf("h265 sps: log2_max_pic_order_cnt_lsb_minus4 %d: %w",
			sps.Log2MaxPicOrderCntLsbMinus4, nalu.ErrInvalidSPS)
	}
	sps.BitDepthLuma = bitDepthLuma + 8
	sps.BitDepthChroma = bitDepthChroma + 8

	if err := sps.setDimensions(); err != nil {
		return nil, err
	}

	layers := int(sps.MaxSubLayersMinus1) + 1
	sps.MaxDecPicBufferingMinus1 = make([]uint32, layers)
	first := layers - 1
	if r.Flag("sps_sub_layer_ordering_info_present_flag") {
		first = 0
	}
	for i := first; i < layers; i++ {
		sps.MaxDecPicBufferingMinus1[i] = r.UE("sps_max_dec_pic_buffering_minus1")
		r.UE("sps_max_num_reorder_pics")
		r.UE("sps_max_latency_increase_plus1")
	}
	for i := 0; i < first; i++ {
		sps.MaxDecPicBufferingMinus1[i] = sps.MaxDecPicBufferingMinus1[first]
	}

	sps.Log2MinLumaCodingBlockSizeMinus3 = r.UE("log2_min_luma_coding_block_size_minus3")
	sps.Log2DiffMaxMinLumaCodingBlockSize = r.UE("log2_diff_max_min_luma_coding_block_size")
	r.UE("log2_min_luma_transform_block_size_minus2")
	r.UE("log2_diff_max_min_luma_transform_block_size")
	r.UE("max_transform_hierarchy_depth_inter")
	r.UE("max_transform_hierarchy_depth_intra")

	sps.ScalingListEnabledFlag = r.Flag("scaling_list_enabled_flag")
	if sps.ScalingListEnabledFlag && r.Flag("sps_scaling_list_data_present_flag") {
		sl, err := parseScalingListData(r)
		if err != nil {
			return nil, fmt.Errorf("h265 sps: %w", err)
		}
		sps.ScalingList = sl
	}

	sps.AmpEnabledFlag = r.Flag("amp_enabled_flag")
	sps.SampleAdaptiveOffsetEnabledFlag = r.Flag("sample_adaptive_offset_enabled_flag")
	sps.PCMEnabledFlag = r.Flag("pcm_enabled_flag")
	if sps.PCMEnabledFlag {
		r.Skip(4, "pcm_sample_bit_depth_luma_minus1")
		r.Skip(4, "pcm_sample_bit_depth_chroma_minus1")
		r.UE("log2_min_pcm_luma_coding_block_size_minus3")
		r.UE("log2_diff_max_min_pcm_luma_coding_block_size")
		r.Skip(1, "pcm_loop_filter_disabled_flag")
	}

	numSets := r.UE("num_short_term_ref_pic_sets")
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h265 sps: %w", err)
	}
	if numSets > maxShortTermRefPicSets {
		return nil, fmt.Errorf("h265 sps: num_short_term_ref_pic_sets %d: %w", numSets, nalu.ErrInvalidReferencePicSet)
	}
	sps.ShortTermRefPicSets = make([]ShortTermRefPicSet, 0, numSets)
	for idx := 0; idx < int(numSets); idx++ {
		rps, err := ParseShortTermRefPicSet(r, idx, int(numSets), sps.ShortTermRefPicSets)
		if err != nil {
			return nil, fmt.Errorf("h265 sps: st_ref_pic_set(%d): %w", idx, err)
		}
		sps.ShortTermRefPicSets = append(sps.ShortTermRefPicSets, rps)
	}

	sps.LongTermRefPicsPresentFlag = r.Flag("long_term_ref_pics_present_flag")
	if sps.LongTermRefPicsPresentFlag {
		numLongTerm := r.UE("num_long_term_ref_pics_sps")
		if r.Err() == nil && numLongTerm > maxLongTermRefPicsSPS {
			return nil, fmt.Errorf("h265 sps: num_long_term_ref_pics_sps %d: %w", numLongTerm, nalu.ErrInvalidSPS)
		}
		lsbBits := int(sps.Log2MaxPicOrderCntLsbMinus4) + 4
		for i := uint32(0); i < numLongTerm && r.Err() == nil; i++ {
			sps.LtRefPicPocLsbSPS = append(sps.LtRefPicPocLsbSPS, r.U(lsbBits, "lt_ref_pic_poc_lsb_sps"))
			sps.UsedByCurrPicLtSPSFlag = append(sps.UsedByCurrPicLtSPSFlag, r.Flag("used_by_curr_pic_lt_sps_flag"))
		}
	}
	sps.TemporalMVPEnabledFlag = r.Flag("sps_temporal_mvp_enabled_flag")

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("h265 sps: %w", err)
	}
	return sps, nil
}

func (s *SPS) setDimensions() error {
	width := int64(s.PicWidthInLumaSamples)
	height := int64(s.PicHeightInLumaSamples)
	if s.ConformanceWindowFlag {
		w := s.ConformanceWindow
		width -= int64(s.SubWidthC()) * (int64(w.Left) + int64(w.Right))
		height -= int64(s.SubHeightC()) * (int64(w.Top) + int64(w.Bottom))
	}
	if width <= 0 || height <= 0 || width > maxPictureDimension || height > maxPictureDimension {
		return fmt.Errorf("h265 sps: cropped size %dx%d: %w", width, height, nalu.ErrInvalidSPS)
	}
	s.Width = int(width)
	s.Height = int(height)
	return nil
}
