// Package pipeline drives a single stream from its byte source to its
// decode consumer. The input is re-framed on start code boundaries (raw
// Annex-B) or demultiplexed (MPEG-TS) and handed to a session; the access
// units the session produces are forwarded to the consumer from a buffered
// channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/nalcore/internal/accessunit"
	"github.com/zsiec/nalcore/internal/media"
	"github.com/zsiec/nalcore/internal/nalu"
)

// DefaultReadSize is the input read size used when none is configured: ten
// 1316-byte SRT payloads.
const DefaultReadSize = 1316 * 10

// ticksPerSecond is the 90 kHz clock of the timestamps handed to sessions.
const ticksPerSecond = 90_000

// DataHandler receives re-framed Annex-B buffers. session.Session
// implements it.
type DataHandler interface {
	OnData(buf []byte, pts int64)
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	BytesRead int64  `json:"bytesRead"`
	Buffers   int64  `json:"buffers"`
	Forwarded int64  `json:"forwarded"`
	Keyframes int64  `json:"keyframes"`
	LastPTS   int64  `json:"lastPts"`
	ChanDepth int    `json:"chanDepth"`
	UptimeMs  int64  `json:"uptimeMs"`
	Format    string `json:"format"`
	Codec     string `json:"codec,omitempty"`
}

// Pipeline bridges one input and one consumer. It is itself the
// accessunit.Consumer of the session it feeds.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	format    Format
	src       source
	out       accessunit.Consumer
	readSize  int
	startTime time.Time

	auCh     chan media.AccessUnit
	done     chan struct{}
	doneOnce sync.Once

	bytesRead atomic.Int64
	buffers   atomic.Int64
	forwarded atomic.Int64
	keyframes atomic.Int64
	lastPTS   atomic.Int64
	chanDepth atomic.Int32
	codec     atomic.Int32
}

// New creates a Pipeline reading input in the given format and forwarding
// access units to out. Raw input is read in readSize chunks; a non-positive
// readSize selects DefaultReadSize. If log is nil, slog.Default() is used.
func New(streamKey string, input io.Reader, format Format, out accessunit.Consumer, readSize int, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	p := &Pipeline{
		log:       log.With("component", "pipeline", "stream", streamKey),
		streamKey: streamKey,
		format:    format,
		out:       out,
		readSize:  readSize,
		startTime: time.Now(),
		auCh:      make(chan media.AccessUnit, media.AccessUnitBufferSize),
		done:      make(chan struct{}),
	}
	p.input = countingReader{r: input, n: &p.bytesRead}
	return p
}

// Format returns the input format.
func (p *Pipeline) Format() Format {
	return p.format
}

// ProbeCodec reads an MPEG-TS input until its program map names the video
// codec. Units read meanwhile are kept for Run. For raw input it returns
// nalu.CodecUnknown; the codec must come from elsewhere.
func (p *Pipeline) ProbeCodec(ctx context.Context) (nalu.Codec, error) {
	ts, ok := p.open(ctx).(*tsSource)
	if !ok {
		return nalu.CodecUnknown, nil
	}
	c, err := ts.codec()
	if err != nil {
		return nalu.CodecUnknown, fmt.Errorf("probe %s: %w", p.streamKey, err)
	}
	return c, nil
}

// open creates the source on first use. ProbeCodec and Run must not be
// called concurrently.
func (p *Pipeline) open(ctx context.Context) source {
	if p.src != nil {
		return p.src
	}
	switch p.format {
	case FormatMPEGTS:
		p.src = newTSSource(ctx, p.input, p.log)
	default:
		p.src = newAnnexBSource(p.input, p.readSize)
	}
	return p.src
}

// Feed queues au for the consumer. It blocks while the queue is full and
// drops au once Run has returned. It implements accessunit.Consumer.
func (p *Pipeline) Feed(au media.AccessUnit) {
	select {
	case p.auCh <- au:
	case <-p.done:
	}
}

// Stats returns a point-in-time snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		BytesRead: p.bytesRead.Load(),
		Buffers:   p.buffers.Load(),
		Forwarded: p.forwarded.Load(),
		Keyframes: p.keyframes.Load(),
		LastPTS:   p.lastPTS.Load(),
		ChanDepth: int(p.chanDepth.Load()),
		UptimeMs:  time.Since(p.startTime).Milliseconds(),
		Format:    p.format.String(),
	}
	if c := nalu.Codec(p.codec.Load()); c != nalu.CodecUnknown {
		st.Codec = c.String()
	}
	return st
}

// Run reads the input into h and forwards the resulting access units until
// the input ends or ctx is cancelled. Every Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context, h DataHandler) error {
	defer p.doneOnce.Do(func() { close(p.done) })

	readErr := make(chan error, 1)
	go func() {
		err := p.read(ctx, h)
		close(p.auCh)
		readErr <- err
	}()

	for {
		p.chanDepth.Store(int32(len(p.auCh)))
		select {
		case <-ctx.Done():
			return nil
		case au, ok := <-p.auCh:
			if !ok {
				err := <-readErr
				p.log.Info("input finished", "error", err, "forwarded", p.forwarded.Load())
				return err
			}
			p.forward(au)
		}
	}
}

func (p *Pipeline) forward(au media.AccessUnit) {
	p.out.Feed(au)
	p.forwarded.Add(1)
	if au.IsKeyframe {
		p.keyframes.Add(1)
	}
	p.lastPTS.Store(au.PTS)
	p.codec.Store(int32(au.Codec))
}

// read pulls buffers from the source into h. Buffers without a container
// timestamp are stamped with their arrival time on a 90 kHz clock.
func (p *Pipeline) read(ctx context.Context, h DataHandler) error {
	src := p.open(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		buf, pts, err := src.next()
		if len(buf) > 0 {
			p.deliver(h, buf, pts)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", p.streamKey, err)
		}
	}
}

func (p *Pipeline) deliver(h DataHandler, buf []byte, pts int64) {
	p.buffers.Add(1)
	if pts == noPTS {
		pts = time.Since(p.startTime).Microseconds() * ticksPerSecond / 1_000_000
	}
	h.OnData(buf, pts)
}
