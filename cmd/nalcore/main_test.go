package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/nalcore/internal/config"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

var (
	// 1280x720 High profile, VUI present.
	sps720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	pps   = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
	idr   = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	slice = []byte{0x41, 0x9a, 0x02, 0x0c, 0x40}
)

const sprop720p = "Z2QAH6zZQFAFu/8AAwAEagICAoAAAfSAAF3AB4wYyw==,aOvjyyLA"

func annexB(units ...[]byte) []byte {
	var buf []byte
	for _, u := range units {
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, u...)
	}
	return buf
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProbe(t *testing.T) {
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile("cam1.h264", annexB(sps720p, pps, idr, slice, slice), 0o644))
	out, err := execute(t, "probe", "--out", "fixed", "cam1.h264")
	require.NoError(t, err)
	require.Contains(t, out, "1280x720")
	require.Contains(t, out, "avc1.64001F")

	data, err := os.ReadFile(filepath.Join("fixed", "cam1.h264"))
	require.NoError(t, err)
	require.Equal(t, annexB(sps720p, pps, idr, slice, slice), data)
}

func TestProbeWithSprop(t *testing.T) {
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile("cam1.bin", annexB(idr, slice), 0o644))
	out, err := execute(t, "probe", "--codec", "h264", "--sprop", sprop720p, "--out", "fixed", "cam1.bin")
	require.NoError(t, err)
	require.Contains(t, out, "1280x720")

	data, err := os.ReadFile(filepath.Join("fixed", "cam1.h264"))
	require.NoError(t, err)
	require.Equal(t, annexB(sps720p, pps, idr, slice), data)
}

func TestProbeMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "probe", "missing.h264")
	require.Error(t, err)
}

func TestSPSCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "sps", sprop720p)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "h264 nal type 7")
	require.Contains(t, lines[0], "1280x720 avc1.64001F")
	require.Contains(t, lines[1], "h264 nal type 8, 6 bytes")
}

func TestSPSCommandJSON(t *testing.T) {
	t.Chdir(t.TempDir())

	fmtp := "a=fmtp:96 packetization-mode=1;sprop-parameter-sets=" + sprop720p
	out, err := execute(t, "sps", "--fmtp", "--json", fmtp)
	require.NoError(t, err)

	var reports []unitReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	require.Equal(t, 1280, reports[0].Width)
	require.Equal(t, 720, reports[0].Height)
	require.Equal(t, uint32(8), reports[0].BitDepth)
	require.Empty(t, reports[0].Error)
}

func TestSPSCommandNoUnits(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "sps", " , ")
	require.ErrorContains(t, err, "no parameter sets")
}

func TestDetectCodec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header byte
		want   nalu.Codec
	}{
		{0x67, nalu.H264},
		{0x68, nalu.H264},
		{0x40, nalu.H265},
		{0x42, nalu.H265},
		{0x44, nalu.H265},
		{0x65, nalu.CodecUnknown},
		{0x26, nalu.CodecUnknown},
	}
	for _, tc := range tests {
		if got := detectCodec([]byte{tc.header, 0x01}); got != tc.want {
			t.Errorf("detectCodec(%#02x) = %s, want %s", tc.header, got, tc.want)
		}
	}
	require.Equal(t, nalu.CodecUnknown, detectCodec(nil))
}

func TestDescribeUnitTruncatedSPS(t *testing.T) {
	t.Parallel()

	r := describeUnit(nalu.H264, sps720p[:4])
	require.Equal(t, uint8(7), r.Type)
	require.Zero(t, r.Width)
	require.NotEmpty(t, r.Error)
}

func TestCodecForFile(t *testing.T) {
	t.Parallel()

	require.Equal(t, nalu.H265, codecForFile("a/b/cam.HEVC", nalu.H264))
	require.Equal(t, nalu.H265, codecForFile("cam.265", nalu.H264))
	require.Equal(t, nalu.H264, codecForFile("cam.264", nalu.H265))
	require.Equal(t, nalu.H265, codecForFile("cam.bin", nalu.H265))
}

func TestFormatForFile(t *testing.T) {
	t.Parallel()

	require.Equal(t, pipeline.FormatMPEGTS, formatForFile("rec/cam.TS", pipeline.FormatAnnexB))
	require.Equal(t, pipeline.FormatMPEGTS, formatForFile("cam.m2ts", pipeline.FormatAnnexB))
	require.Equal(t, pipeline.FormatAnnexB, formatForFile("cam.h265", pipeline.FormatMPEGTS))
	require.Equal(t, pipeline.FormatMPEGTS, formatForFile("cam.bin", pipeline.FormatMPEGTS))
}

func TestParsePulls(t *testing.T) {
	t.Parallel()

	cfg := config.Config{DefaultCodec: "h264", SRTLatency: 200 * time.Millisecond}
	reqs, err := parsePulls([]string{
		"cam1=10.0.0.5:9000",
		"cam2?codec=hevc=10.0.0.6:9000",
		"cam3?codec=h264&format=ts=10.0.0.7:9000",
	}, cfg)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	require.Equal(t, "cam1", reqs[0].StreamKey)
	require.Equal(t, "10.0.0.5:9000", reqs[0].Address)
	require.Equal(t, nalu.H264, reqs[0].Codec)
	require.Equal(t, 200*time.Millisecond, reqs[0].Latency)
	require.Equal(t, "cam2", reqs[1].StreamKey)
	require.Equal(t, nalu.H265, reqs[1].Codec)
	require.Equal(t, pipeline.FormatAnnexB, reqs[1].Format)
	require.Equal(t, "cam3", reqs[2].StreamKey)
	require.Equal(t, "10.0.0.7:9000", reqs[2].Address)
	require.Equal(t, pipeline.FormatMPEGTS, reqs[2].Format)

	for _, bad := range []string{
		"10.0.0.5:9000", "=10.0.0.5:9000", "cam1=", "cam1?codec=vp9=host:1",
		"cam1?format=flv=host:1", "?codec=h264=host:1",
	} {
		_, err := parsePulls([]string{bad}, cfg)
		require.Error(t, err, bad)
	}
}
