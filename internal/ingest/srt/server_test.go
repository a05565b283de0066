package srt

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/nalcore/internal/ingest"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
	"github.com/zsiec/nalcore/internal/session"
)

func TestExtractStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
	}{
		{name: "simple key", streamID: "camera1", want: "camera1"},
		{name: "leading slash", streamID: "/camera1", want: "camera1"},
		{name: "live prefix", streamID: "live/camera1", want: "camera1"},
		{name: "slash and live prefix", streamID: "/live/camera1", want: "camera1"},
		{name: "empty returns default", streamID: "", want: "default"},
		{name: "just slash returns default", streamID: "/", want: "default"},
		{name: "just live/ returns default", streamID: "live/", want: "default"},
		{name: "nested path preserved", streamID: "studio/camera1", want: "studio/camera1"},
		{name: "live in name preserved", streamID: "liveshow", want: "liveshow"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractStreamKey(tc.streamID)
			if got != tc.want {
				t.Errorf("extractStreamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
			}
		})
	}
}

func TestParseStreamID(t *testing.T) {
	t.Parallel()

	const (
		annexb = pipeline.FormatAnnexB
		ts     = pipeline.FormatMPEGTS
	)
	tests := []struct {
		streamID   string
		def        nalu.Codec
		wantKey    string
		wantCodec  nalu.Codec
		wantFormat pipeline.Format
	}{
		{"live/cam1", nalu.H264, "cam1", nalu.H264, annexb},
		{"live/cam1", nalu.H265, "cam1", nalu.H265, annexb},
		{"live/cam1?codec=hevc", nalu.H264, "cam1", nalu.H265, annexb},
		{"/cam2?codec=H264&latency=200", nalu.H265, "cam2", nalu.H264, annexb},
		{"cam3?codec=vp9", nalu.H264, "cam3", nalu.H264, annexb},
		{"?codec=h265", nalu.H264, "default", nalu.H265, annexb},
		{"cam4?%zz", nalu.H265, "cam4", nalu.H265, annexb},
		{"live/cam5?format=ts", nalu.H264, "cam5", nalu.H264, ts},
		{"cam6?codec=h265&format=mpegts", nalu.H264, "cam6", nalu.H265, ts},
		{"cam7?format=flv", nalu.H264, "cam7", nalu.H264, annexb},
	}

	for _, tc := range tests {
		key, codec, format := parseStreamID(tc.streamID, tc.def, annexb)
		if key != tc.wantKey || codec != tc.wantCodec || format != tc.wantFormat {
			t.Errorf("parseStreamID(%q, %s) = %q, %s, %s; want %q, %s, %s",
				tc.streamID, tc.def, key, codec, format, tc.wantKey, tc.wantCodec, tc.wantFormat)
		}
	}

	if _, _, format := parseStreamID("cam8", nalu.H264, ts); format != ts {
		t.Errorf("default format = %s, want mpegts", format)
	}
}

func TestLatencyValue(t *testing.T) {
	t.Parallel()

	var ns int64
	latencyValue(&ns, 120*time.Millisecond)
	if ns != 120_000_000 {
		t.Errorf("latency = %d, want 120000000", ns)
	}

	var d time.Duration
	latencyValue(&d, 250*time.Millisecond)
	if d != 250*time.Millisecond {
		t.Errorf("latency = %s, want 250ms", d)
	}
}

func newRunner() *ingest.Runner {
	open := func(string, nalu.Codec) (ingest.Output, error) { return nil, nil }
	return ingest.NewRunner(session.NewManager(nil), open, 0, nil)
}

func TestNewServerDefaults(t *testing.T) {
	t.Parallel()

	s := NewServer(ServerConfig{Addr: ":0"}, newRunner(), nil)
	if s.cfg.Latency != defaultLatency {
		t.Errorf("Latency = %s, want %s", s.cfg.Latency, defaultLatency)
	}
	if s.cfg.Codec != nalu.H264 {
		t.Errorf("Codec = %s, want h264", s.cfg.Codec)
	}
	if s.cfg.Format != pipeline.FormatAnnexB {
		t.Errorf("Format = %s, want annexb", s.cfg.Format)
	}
}

func TestPullValidation(t *testing.T) {
	t.Parallel()

	c := NewCaller(newRunner(), nil)
	if err := c.Pull(context.Background(), PullRequest{StreamKey: "cam1"}); err == nil {
		t.Error("Pull without address should fail")
	}
	if err := c.Pull(context.Background(), PullRequest{Address: "127.0.0.1:9000"}); err == nil {
		t.Error("Pull without stream key should fail")
	}
	if got := c.ActivePulls(); len(got) != 0 {
		t.Errorf("ActivePulls = %v, want none", got)
	}
}

func TestPullRequestDefaults(t *testing.T) {
	t.Parallel()

	req := PullRequest{Address: "127.0.0.1:9000", StreamKey: "cam1"}
	if err := req.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Codec != nalu.H264 || req.Latency != defaultLatency {
		t.Errorf("defaults = %s, %s", req.Codec, req.Latency)
	}
}

func TestStopUnknownPull(t *testing.T) {
	t.Parallel()

	c := NewCaller(newRunner(), nil)
	if err := c.Stop("missing"); err == nil {
		t.Error("Stop of an unknown pull should fail")
	}
	// Wait on an unknown pull returns immediately.
	c.Wait("missing")
}
