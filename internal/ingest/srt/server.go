package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/nalcore/internal/ingest"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr    string
	Latency time.Duration
	// Codec and Format are assumed for stream IDs that do not name them.
	Codec  nalu.Codec
	Format pipeline.Format
}

// Server accepts incoming SRT publish connections and ingests each one as
// a raw Annex-B elementary stream or an MPEG transport stream.
type Server struct {
	log    *slog.Logger
	cfg    ServerConfig
	runner *ingest.Runner
}

// NewServer creates an SRT server that listens on cfg.Addr and ingests
// incoming streams with runner. If log is nil, slog.Default() is used.
func NewServer(cfg ServerConfig, runner *ingest.Runner, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Latency <= 0 {
		cfg.Latency = defaultLatency
	}
	if cfg.Codec == nalu.CodecUnknown {
		cfg.Codec = nalu.H264
	}
	return &Server{
		log:    log.With("component", "srt-server"),
		cfg:    cfg,
		runner: runner,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	latencyValue(&cfg.Latency, s.cfg.Latency)

	l, err := srtgo.Listen(s.cfg.Addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("listening", "addr", s.cfg.Addr, "latency", s.cfg.Latency, "codec", s.cfg.Codec.String(), "format", s.cfg.Format.String())

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		if key, _, _ := parseStreamID(req.StreamID, s.cfg.Codec, s.cfg.Format); s.runner.Active(key) {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		streamKey, codec, format := parseStreamID(conn.StreamID(), s.cfg.Codec, s.cfg.Format)
		s.log.Info("publish", "stream_key", streamKey, "codec", codec.String(), "format", format.String(), "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, ingest.Input{
			Key:        streamKey,
			Codec:      codec,
			Format:     format,
			RemoteAddr: conn.RemoteAddr().String(),
			Reader:     conn,
		})
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, in ingest.Input) {
	// Closing the connection unblocks the pipeline's pending read.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	_, err := s.runner.Run(connCtx, in)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("stream ended with error", "stream_key", in.Key, "error", err)
	}
}
