package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultStreamID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "live/cam1?codec=h264", defaultStreamID("/tmp/cam1.h264"))
	require.Equal(t, "live/cam2?codec=h265", defaultStreamID("cam2.hevc"))
	require.Equal(t, "live/rec?format=ts", defaultStreamID("rec.ts"))
	require.Equal(t, "live/dump", defaultStreamID("dump.bin"))
}

func TestPushPaced(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x47}, pushChunkSize*2+100)
	var out bytes.Buffer
	sent, err := pushPaced(context.Background(), &out, data, 0, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2*len(data)), sent)
	require.Equal(t, append(append([]byte(nil), data...), data...), out.Bytes())
}

func TestPushPacedRate(t *testing.T) {
	t.Parallel()

	data := make([]byte, pushChunkSize*2)
	start := time.Now()
	// Two chunks at one chunk per 50ms.
	_, err := pushPaced(context.Background(), &bytes.Buffer{}, data, uint64(pushChunkSize*20), 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPushPacedCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent, err := pushPaced(ctx, &bytes.Buffer{}, make([]byte, 10), 0, 0)
	require.True(t, errors.Is(err, context.Canceled))
	require.Zero(t, sent)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPushPacedWriteError(t *testing.T) {
	t.Parallel()

	_, err := pushPaced(context.Background(), failingWriter{}, make([]byte, 10), 0, 1)
	require.ErrorContains(t, err, "broken pipe")
}
