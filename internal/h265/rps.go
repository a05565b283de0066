package h265

import (
	"fmt"

	"github.com/zsiec/nalcore/internal/bitstream"
	"github.com/zsiec/nalcore/internal/nalu"
)

// maxRefPics bounds num_negative_pics and num_positive_pics.
const maxRefPics = 16

// ShortTermRefPicSet is one st_ref_pic_set() entry. An inter-predicted set
// fills UsedByCurrPicFlag and UseDeltaFlag. An explicitly coded set fills
// the S0/S1 lists instead.
type ShortTermRefPicSet struct {
	InterRefPicSetPredictionFlag bool
	DeltaIdxMinus1               uint32
	DeltaRpsSign                 bool
	AbsDeltaRpsMinus1            uint32
	UsedByCurrPicFlag            []bool
	UseDeltaFlag                 []bool

	NumNegativePics     uint32
	NumPositivePics     uint32
	DeltaPocS0Minus1    []uint32
	UsedByCurrPicS0Flag []bool
	DeltaPocS1Minus1    []uint32
	UsedByCurrPicS1Flag []bool
}

// NumDeltaPocs returns the number of delta POCs a set predicting from s has
// to signal, minus the implicit current-picture entry.
func (s *ShortTermRefPicSet) NumDeltaPocs() (int, error) {
	if !s.InterRefPicSetPredictionFlag {
		return int(s.NumNegativePics + s.NumPositivePics), nil
	}
	if len(s.UsedByCurrPicFlag) != len(s.UseDeltaFlag) {
		return 0, fmt.Errorf("used_by_curr_pic_flag has %d entries, use_delta_flag %d: %w",
			len(s.UsedByCurrPicFlag), len(s.UseDeltaFlag), nalu.ErrInvalidReferencePicSet)
	}
	n := 0
	for i, used := range s.UsedByCurrPicFlag {
		if used || s.UseDeltaFlag[i] {
			n++
		}
	}
	return n, nil
}

// ParseShortTermRefPicSet reads st_ref_pic_set(idx). sets holds the sets
// already parsed for the sequence, num is num_short_term_ref_pic_sets. A
// slice header passes idx == num, which is the only case carrying
// delta_idx_minus1.
func ParseShortTermRefPicSet(r *bitstream.SyntaxReader, idx, num int, sets []ShortTermRefPicSet) (ShortTermRefPicSet, error) {
	var rps ShortTermRefPicSet
	if idx != 0 {
		rps.InterRefPicSetPredictionFlag = r.Flag("inter_ref_pic_set_prediction_flag")
	}

	if rps.InterRefPicSetPredictionFlag {
		if idx == num {
			rps.DeltaIdxMinus1 = r.UE("delta_idx_minus1")
		}
		rps.DeltaRpsSign = r.Flag("delta_rps_sign")
		rps.AbsDeltaRpsMinus1 = r.UE("abs_delta_rps_minus1")
		if err := r.Err(); err != nil {
			return rps, err
		}

		ref := idx - (int(rps.DeltaIdxMinus1) + 1)
		if ref < 0 || ref >= idx || ref >= len(sets) {
			return rps, fmt.Errorf("set %d references set %d: %w", idx, ref, nalu.ErrInvalidReferencePicSet)
		}
		numDeltaPocs, err := sets[ref].NumDeltaPocs()
		if err != nil {
			return rps, err
		}

		rps.UsedByCurrPicFlag = make([]bool, numDeltaPocs+1)
		rps.UseDeltaFlag = make([]bool, numDeltaPocs+1)
		for j := 0; j <= numDeltaPocs; j++ {
			rps.UsedByCurrPicFlag[j] = r.Flag("used_by_curr_pic_flag")
			rps.UseDeltaFlag[j] = true
			if !rps.UsedByCurrPicFlag[j] {
				rps.UseDeltaFlag[j] = r.Flag("use_delta_flag")
			}
		}
		return rps, r.Err()
	}

	rps.NumNegativePics = r.UE("num_negative_pics")
	rps.NumPositivePics = r.UE("num_positive_pics")
	if err := r.Err(); err != nil {
		return rps, err
	}
	if rps.NumNegativePics > maxRefPics || rps.NumPositivePics > maxRefPics {
		return rps, fmt.Errorf("%d negative, %d positive pictures: %w",
			rps.NumNegativePics, rps.NumPositivePics, nalu.ErrInvalidReferencePicSet)
	}

	rps.DeltaPocS0Minus1 = make([]uint32, rps.NumNegativePics)
	rps.UsedByCurrPicS0Flag = make([]bool, rps.NumNegativePics)
	for i := range rps.DeltaPocS0Minus1 {
		rps.DeltaPocS0Minus1[i] = r.UE("delta_poc_s0_minus1")
		rps.UsedByCurrPicS0Flag[i] = r.Flag("used_by_curr_pic_s0_flag")
	}
	rps.DeltaPocS1Minus1 = make([]uint32, rps.NumPositivePics)
	rps.UsedByCurrPicS1Flag = make([]bool, rps.NumPositivePics)
	for i := range rps.DeltaPocS1Minus1 {
		rps.DeltaPocS1Minus1[i] = r.UE("delta_poc_s1_minus1")
		rps.UsedByCurrPicS1Flag[i] = r.Flag("used_by_curr_pic_s1_flag")
	}
	return rps, r.Err()
}
