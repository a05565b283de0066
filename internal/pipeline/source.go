package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/nalcore/internal/mpegts"
	"github.com/zsiec/nalcore/internal/nalu"
)

// noPTS marks a buffer without a container timestamp; the pipeline stamps
// it with its arrival time.
const noPTS = -1

// source yields Annex-B buffers that start on a start code.
type source interface {
	next() (buf []byte, pts int64, err error)
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// annexBSource re-frames a raw elementary stream on start codes.
type annexBSource struct {
	r       io.Reader
	buf     []byte
	aligner nalu.Aligner
}

func newAnnexBSource(r io.Reader, readSize int) *annexBSource {
	return &annexBSource{r: r, buf: make([]byte, readSize)}
}

// next returns the next aligned buffer. With a read error the open tail is
// returned along with the error.
func (s *annexBSource) next() ([]byte, int64, error) {
	for {
		n, err := s.r.Read(s.buf)
		var out []byte
		if n > 0 {
			out = s.aligner.Write(s.buf[:n])
		}
		if err != nil {
			if tail := s.aligner.Flush(); tail != nil {
				out = append(out, tail...)
			}
			return out, noPTS, err
		}
		if out != nil {
			return out, noPTS, nil
		}
	}
}

// tsSource returns the video PES payloads of a transport stream.
type tsSource struct {
	vr *mpegts.VideoReader
}

func newTSSource(ctx context.Context, r io.Reader, log *slog.Logger) *tsSource {
	return &tsSource{vr: mpegts.NewVideoReader(ctx, r, log)}
}

func (s *tsSource) codec() (nalu.Codec, error) {
	es, err := s.vr.Stream()
	if err != nil {
		return nalu.CodecUnknown, err
	}
	return es.Codec(), nil
}

func (s *tsSource) next() ([]byte, int64, error) {
	for {
		u, err := s.vr.Next()
		if err != nil {
			return nil, noPTS, err
		}
		if !hasStartCode(u.Data) {
			continue
		}
		if !u.HasPTS {
			return u.Data, noPTS, nil
		}
		return u.Data, u.PTS, nil
	}
}

func hasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0 && b[1] == 0 && (b[2] == 1 || len(b) >= 4 && b[2] == 0 && b[3] == 1)
}
