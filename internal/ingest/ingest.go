// Package ingest runs byte-stream inputs through sessions. Each input gets
// a session registered under its stream key, a pipeline that re-frames or
// demultiplexes the bytes for it, and an output that receives the
// reconstructed access units.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsiec/nalcore/internal/accessunit"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
	"github.com/zsiec/nalcore/internal/session"
)

// ErrDuplicateStream is returned when a stream key is already being ingested.
var ErrDuplicateStream = errors.New("ingest: stream key already active")

// Output receives the access units of one stream and is closed when the
// stream ends.
type Output interface {
	accessunit.Consumer
	Close() error
}

// OutputFactory opens the output of a new stream.
type OutputFactory func(key string, codec nalu.Codec) (Output, error)

// Input describes one byte stream to ingest. For MPEG-TS input the codec
// announced by the program map takes precedence over Codec.
type Input struct {
	Key        string
	Codec      nalu.Codec
	Format     pipeline.Format
	RemoteAddr string
	// Sprop optionally carries out-of-band parameter sets in SDP
	// sprop-parameter-sets form.
	Sprop  string
	Reader io.Reader
}

// Result summarises a finished stream.
type Result struct {
	Key      string         `json:"key"`
	Session  session.Stats  `json:"session"`
	Pipeline pipeline.Stats `json:"pipeline"`
	Duration time.Duration  `json:"duration"`
}

// Runner couples the session manager with the pipelines of active inputs.
type Runner struct {
	base     *slog.Logger
	log      *slog.Logger
	mgr      *session.Manager
	open     OutputFactory
	readSize int
}

// NewRunner creates a Runner that registers sessions with mgr and opens
// outputs with open. If log is nil, slog.Default() is used.
func NewRunner(mgr *session.Manager, open OutputFactory, readSize int, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		base:     log,
		log:      log.With("component", "ingest"),
		mgr:      mgr,
		open:     open,
		readSize: readSize,
	}
}

// Active reports whether key is currently being ingested.
func (r *Runner) Active(key string) bool {
	_, ok := r.mgr.Get(key)
	return ok
}

// Run ingests in until its reader ends or ctx is cancelled. The returned
// Result is valid whenever the stream was started, even alongside an error.
func (r *Runner) Run(ctx context.Context, in Input) (Result, error) {
	if r.Active(in.Key) {
		return Result{}, fmt.Errorf("%w: %q", ErrDuplicateStream, in.Key)
	}

	var output lazyOutput
	p := pipeline.New(in.Key, in.Reader, in.Format, &output, r.readSize, r.base)
	codec, err := r.resolveCodec(ctx, p, in)
	if err != nil {
		return Result{}, err
	}

	out, err := r.open(in.Key, codec)
	if err != nil {
		return Result{}, fmt.Errorf("open output for %q: %w", in.Key, err)
	}
	output.Output = out

	sess, ok := r.mgr.Create(in.Key, p)
	if !ok {
		out.Close()
		return Result{}, fmt.Errorf("%w: %q", ErrDuplicateStream, in.Key)
	}
	defer r.mgr.Remove(in.Key)

	if !sess.OnNewSession(codec.String()) {
		out.Close()
		return Result{}, fmt.Errorf("stream %q: %w", in.Key, nalu.ErrUnsupportedCodec)
	}
	if in.RemoteAddr != "" {
		sess.SetRemoteAddr(in.RemoteAddr)
	}
	if in.Sprop != "" {
		if err := sess.SetOutOfBandParameterSets(in.Sprop); err != nil {
			r.log.Warn("ignoring out-of-band parameter sets", "stream", in.Key, "error", err)
		}
	}

	runErr := p.Run(ctx, sess)
	closeErr := out.Close()

	res := Result{
		Key:      in.Key,
		Session:  sess.Stats(),
		Pipeline: p.Stats(),
		Duration: time.Since(sess.StartedAt),
	}
	r.log.Info("stream ended",
		"stream", in.Key,
		"format", in.Format,
		"codec", codec,
		"received", humanize.Bytes(uint64(res.Session.BytesReceived)),
		"access_units", res.Pipeline.Forwarded,
		"keyframes", res.Pipeline.Keyframes,
		"resolution", fmt.Sprintf("%dx%d", res.Session.Width, res.Session.Height),
		"uptime_ms", res.Duration.Milliseconds(),
	)
	return res, errors.Join(runErr, closeErr)
}

// resolveCodec picks the codec of in. Transport streams are probed for
// their program map; raw input must name its codec.
func (r *Runner) resolveCodec(ctx context.Context, p *pipeline.Pipeline, in Input) (nalu.Codec, error) {
	probed, err := p.ProbeCodec(ctx)
	if err != nil {
		return nalu.CodecUnknown, err
	}
	if probed == nalu.CodecUnknown {
		if in.Codec == nalu.CodecUnknown {
			return nalu.CodecUnknown, fmt.Errorf("stream %q: %w", in.Key, nalu.ErrUnsupportedCodec)
		}
		return in.Codec, nil
	}
	if in.Codec != nalu.CodecUnknown && in.Codec != probed {
		r.log.Warn("codec from program map overrides requested codec",
			"stream", in.Key, "requested", in.Codec, "probed", probed)
	}
	return probed, nil
}

// lazyOutput lets the pipeline be built before the codec, and with it the
// output, is known.
type lazyOutput struct {
	Output
}
