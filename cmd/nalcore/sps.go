package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zsiec/nalcore/internal/h264"
	"github.com/zsiec/nalcore/internal/h265"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/session"
)

type spsOptions struct {
	Fmtp bool
	JSON bool
}

// unitReport describes one decoded out-of-band NAL unit.
type unitReport struct {
	Codec       string  `json:"codec"`
	Type        uint8   `json:"type"`
	Size        int     `json:"size"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	CodecString string  `json:"codecString,omitempty"`
	FrameRate   float64 `json:"frameRate,omitempty"`
	BitDepth    uint32  `json:"bitDepth,omitempty"`
	Chroma      uint32  `json:"chromaFormatIdc"`
	Error       string  `json:"error,omitempty"`
}

func newSPSCommand(a *app) *cobra.Command {
	opts := &spsOptions{}

	cmd := &cobra.Command{
		Use:   "sps <sprop>...",
		Short: "Decode out-of-band parameter sets",
		Long: `Sps decodes base64 parameter sets as carried in SDP sprop-parameter-sets,
sprop-vps, sprop-sps and sprop-pps, and prints the sequence parameter
set fields. The codec is detected from each NAL unit header unless
--codec is given.`,
		Example: `  nalcore sps Z2QAH6zZQFAFu/8AAwAEagICAoAAAfSAAF3AB4wYyw==,aOvjyyLA
  nalcore sps --fmtp "a=fmtp:96 packetization-mode=1;sprop-parameter-sets=Z2QAH6zZQFAFu/8AAwAEagICAoAAAfSAAF3AB4wYyw==,aOvjyyLA"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var forced nalu.Codec
			if cmd.Flags().Changed("codec") {
				forced = a.cfg.Codec()
			}
			return runSPS(cmd.OutOrStdout(), opts, forced, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.Fmtp, "fmtp", false, "Arguments are SDP fmtp attributes")
	flags.BoolVar(&opts.JSON, "json", false, "Print JSON")
	return cmd
}

func runSPS(w io.Writer, opts *spsOptions, forced nalu.Codec, args []string) error {
	var units [][]byte
	for _, arg := range args {
		var decoded [][]byte
		var err error
		if opts.Fmtp {
			decoded, err = session.ParseFmtp(arg)
		} else {
			decoded, err = session.ParseSpropParameterSets(arg)
		}
		if err != nil {
			return err
		}
		units = append(units, decoded...)
	}
	if len(units) == 0 {
		return fmt.Errorf("no parameter sets found")
	}

	reports := make([]unitReport, 0, len(units))
	for _, unit := range units {
		codec := forced
		if codec == nalu.CodecUnknown {
			codec = detectCodec(unit)
		}
		reports = append(reports, describeUnit(codec, unit))
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, r := range reports {
		printReport(w, r)
	}
	return nil
}

// detectCodec guesses the codec of a parameter set from its NAL header.
// The H.264 and H.265 parameter-set header bytes do not overlap.
func detectCodec(unit []byte) nalu.Codec {
	if len(unit) == 0 {
		return nalu.CodecUnknown
	}
	switch nalu.H264.Type(unit[0]) {
	case nalu.H264TypeSPS, nalu.H264TypePPS:
		return nalu.H264
	}
	switch nalu.H265.Type(unit[0]) {
	case nalu.H265TypeVPS, nalu.H265TypeSPS, nalu.H265TypePPS:
		return nalu.H265
	}
	return nalu.CodecUnknown
}

func describeUnit(codec nalu.Codec, unit []byte) unitReport {
	r := unitReport{Codec: codec.String(), Size: len(unit)}
	if len(unit) == 0 || codec == nalu.CodecUnknown {
		r.Error = "unrecognised NAL unit"
		return r
	}
	typ := codec.Type(unit[0])
	r.Type = uint8(typ)
	if !codec.IsSPS(typ) {
		return r
	}

	switch codec {
	case nalu.H265:
		sps, err := h265.ParseSPS(unit)
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.Width, r.Height = sps.Width, sps.Height
		r.CodecString = sps.CodecString()
		r.BitDepth = sps.BitDepthLuma
		r.Chroma = sps.ChromaFormatIDC
	default:
		sps, err := h264.ParseSPS(unit)
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.Width, r.Height = sps.Width, sps.Height
		r.CodecString = sps.CodecString()
		r.FrameRate = sps.FrameRate()
		r.BitDepth = sps.BitDepthLuma
		r.Chroma = sps.ChromaFormatIDC
	}
	return r
}

func printReport(w io.Writer, r unitReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s nal type %d, %d bytes", r.Codec, r.Type, r.Size)
	if r.Width > 0 {
		fmt.Fprintf(&b, ": %dx%d %s, %d-bit, chroma_format_idc %d", r.Width, r.Height, r.CodecString, r.BitDepth, r.Chroma)
		if r.FrameRate > 0 {
			fmt.Fprintf(&b, ", %.3f fps", r.FrameRate)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, ": %s", r.Error)
	}
	fmt.Fprintln(w, b.String())
}
