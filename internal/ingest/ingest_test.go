package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/zsiec/nalcore/internal/media"
	"github.com/zsiec/nalcore/internal/mpegts"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
	"github.com/zsiec/nalcore/internal/session"
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

func annexB(units ...[]byte) []byte {
	var buf []byte
	for _, u := range units {
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, u...)
	}
	return buf
}

type memOutput struct {
	mu     sync.Mutex
	aus    []media.AccessUnit
	closed bool
}

func (m *memOutput) Feed(au media.AccessUnit) {
	m.mu.Lock()
	m.aus = append(m.aus, au)
	m.mu.Unlock()
}

func (m *memOutput) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func newRunner(t *testing.T) (*Runner, map[string]*memOutput) {
	t.Helper()
	outputs := make(map[string]*memOutput)
	var mu sync.Mutex
	open := func(key string, _ nalu.Codec) (Output, error) {
		mu.Lock()
		defer mu.Unlock()
		out := &memOutput{}
		outputs[key] = out
		return out, nil
	}
	return NewRunner(session.NewManager(nil), open, 16, nil), outputs
}

func TestRunnerRun(t *testing.T) {
	t.Parallel()

	r, outputs := newRunner(t)
	res, err := r.Run(context.Background(), Input{
		Key:        "cam1",
		Codec:      nalu.H264,
		RemoteAddr: "192.0.2.1:9000",
		Reader:     bytes.NewReader(annexB(sps720p, pps, idr, slice)),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := outputs["cam1"]
	if !out.closed {
		t.Error("output was not closed")
	}
	if len(out.aus) != 2 {
		t.Fatalf("got %d access units, want 2", len(out.aus))
	}
	if !bytes.Equal(out.aus[0].Data, annexB(sps720p, pps, idr)) {
		t.Errorf("keyframe = % x", out.aus[0].Data)
	}

	if res.Session.Width != 1280 || res.Session.Height != 720 {
		t.Errorf("resolution %dx%d, want 1280x720", res.Session.Width, res.Session.Height)
	}
	if res.Session.RemoteAddr != "192.0.2.1:9000" {
		t.Errorf("RemoteAddr = %q", res.Session.RemoteAddr)
	}
	if res.Pipeline.Forwarded != 2 || res.Pipeline.Keyframes != 1 {
		t.Errorf("pipeline stats = %+v", res.Pipeline)
	}
	if r.Active("cam1") {
		t.Error("stream still active after Run returned")
	}
}

func TestRunnerOutOfBandParameterSets(t *testing.T) {
	t.Parallel()

	r, outputs := newRunner(t)
	sprop := base64.StdEncoding.EncodeToString(sps720p) + "," + base64.StdEncoding.EncodeToString(pps)
	res, err := r.Run(context.Background(), Input{
		Key:    "cam1",
		Codec:  nalu.H264,
		Sprop:  sprop,
		Reader: bytes.NewReader(annexB(idr, slice)),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := outputs["cam1"].aus[0].Data; !bytes.Equal(got, annexB(sps720p, pps, idr)) {
		t.Errorf("keyframe = % x", got)
	}
	if res.Session.Width != 1280 {
		t.Errorf("Width = %d, want 1280", res.Session.Width)
	}
}

func TestRunnerUnsupportedCodec(t *testing.T) {
	t.Parallel()

	r, outputs := newRunner(t)
	_, err := r.Run(context.Background(), Input{Key: "cam1", Reader: bytes.NewReader(nil)})
	if !errors.Is(err, nalu.ErrUnsupportedCodec) {
		t.Fatalf("Run error = %v, want ErrUnsupportedCodec", err)
	}
	if _, ok := outputs["cam1"]; ok {
		t.Error("output opened for a stream without codec")
	}
	if r.Active("cam1") {
		t.Error("rejected stream still active")
	}
}

func TestRunnerTransportStreamWithoutVideo(t *testing.T) {
	t.Parallel()

	r, outputs := newRunner(t)
	_, err := r.Run(context.Background(), Input{
		Key:    "cam1",
		Codec:  nalu.H264,
		Format: pipeline.FormatMPEGTS,
		Reader: bytes.NewReader(nil),
	})
	if !errors.Is(err, mpegts.ErrNoVideo) {
		t.Fatalf("Run error = %v, want ErrNoVideo", err)
	}
	if _, ok := outputs["cam1"]; ok {
		t.Error("output opened for a stream without video")
	}
}

func TestRunnerDuplicateKey(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), Input{Key: "cam1", Codec: nalu.H264, Reader: io.TeeReader(pr, signalOnce(started))})
		done <- err
	}()

	if _, err := pw.Write(annexB(sps720p)); err != nil {
		t.Fatalf("write: %v", err)
	}
	<-started

	_, err := r.Run(context.Background(), Input{Key: "cam1", Codec: nalu.H264, Reader: bytes.NewReader(nil)})
	if !errors.Is(err, ErrDuplicateStream) {
		t.Fatalf("second Run error = %v, want ErrDuplicateStream", err)
	}

	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
}

func TestRunnerOpenFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("read-only file system")
	r := NewRunner(session.NewManager(nil), func(string, nalu.Codec) (Output, error) { return nil, boom }, 0, nil)
	_, err := r.Run(context.Background(), Input{Key: "cam1", Codec: nalu.H264, Reader: bytes.NewReader(nil)})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

// signalOnce closes ch on the first write.
type signalOnce chan struct{}

func (s signalOnce) Write(p []byte) (int, error) {
	select {
	case <-s:
	default:
		close(s)
	}
	return len(p), nil
}
