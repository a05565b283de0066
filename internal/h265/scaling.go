package h265

import (
	"fmt"

	"github.com/zsiec/nalcore/internal/bitstream"
	"github.com/zsiec/nalcore/internal/nalu"
)

const (
	scalingSizes    = 4
	scalingMatrices = 6

	minDCCoefMinus8 = -7
	maxDCCoefMinus8 = 247
	minDeltaCoef    = -128
	maxDeltaCoef    = 127
)

// ScalingListData holds decoded scaling_list_data(). Lists are indexed by
// sizeId then matrixId; predicted entries copy their reference list.
type ScalingListData struct {
	Lists [scalingSizes][scalingMatrices][]int32
	DC    [scalingSizes - 2][scalingMatrices]int32
}

// parseScalingListData decodes scaling_list_data(). Entries predicted from
// the default tables (delta 0) are left nil.
func parseScalingListData(r *bitstream.SyntaxReader) (*ScalingListData, error) {
	sl := &ScalingListData{}
	for sizeID := 0; sizeID < scalingSizes; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		coefNum := min(64, 1<<(4+(sizeID<<1)))
		for matrixID := 0; matrixID < scalingMatrices; matrixID += step {
			if !r.Flag("scaling_list_pred_mode_flag") {
				delta := int(r.UE("scaling_list_pred_matrix_id_delta"))
				if err := r.Err(); err != nil {
					return nil, err
				}
				if delta*step > matrixID {
					return nil, fmt.Errorf("scaling_list_pred_matrix_id_delta %d for matrix %d: %w",
						delta, matrixID, nalu.ErrInvalidScalingList)
				}
				if delta > 0 {
					ref := matrixID - delta*step
					sl.Lists[sizeID][matrixID] = sl.Lists[sizeID][ref]
					if sizeID > 1 {
						sl.DC[sizeID-2][matrixID] = sl.DC[sizeID-2][ref]
					}
				}
				continue
			}

			next := int32(8)
			if sizeID > 1 {
				dc := r.SE("scaling_list_dc_coef_minus8")
				if err := r.Err(); err != nil {
					return nil, err
				}
				if dc < minDCCoefMinus8 || dc > maxDCCoefMinus8 {
					return nil, fmt.Errorf("scaling_list_dc_coef_minus8 %d: %w", dc, nalu.ErrInvalidScalingList)
				}
				next = dc + 8
				sl.DC[sizeID-2][matrixID] = next
			}
			list := make([]int32, coefNum)
			for i := range list {
				delta := r.SE("scaling_list_delta_coef")
				if err := r.Err(); err != nil {
					return nil, err
				}
				if delta < minDeltaCoef || delta > maxDeltaCoef {
					return nil, fmt.Errorf("scaling_list_delta_coef %d: %w", delta, nalu.ErrInvalidScalingList)
				}
				next = (next + delta + 256) % 256
				list[i] = next
			}
			sl.Lists[sizeID][matrixID] = list
		}
	}
	return sl, nil
}
