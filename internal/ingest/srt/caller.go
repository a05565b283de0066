package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/nalcore/internal/ingest"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string          `json:"address"`
	StreamKey string          `json:"streamKey"`
	StreamID  string          `json:"streamId,omitempty"`
	Codec     nalu.Codec      `json:"codec"`
	Format    pipeline.Format `json:"format"`
	Latency   time.Duration   `json:"latency,omitempty"`
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
	done   chan struct{}
}

// Caller manages SRT pull connections, dialing remote SRT sources
// and ingesting their elementary streams.
type Caller struct {
	log    *slog.Logger
	runner *ingest.Runner

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that ingests pulled streams with runner. If
// log is nil, slog.Default() is used.
func NewCaller(runner *ingest.Runner, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:    log.With("component", "srt-caller"),
		runner: runner,
		pulls:  make(map[string]*activePull),
	}
}

func (req *PullRequest) validate() error {
	if req.Address == "" {
		return fmt.Errorf("address is required")
	}
	if req.StreamKey == "" {
		return fmt.Errorf("streamKey is required")
	}
	if req.Codec == nalu.CodecUnknown {
		req.Codec = nalu.H264
	}
	if req.Latency <= 0 {
		req.Latency = defaultLatency
	}
	return nil
}

// Pull dials the remote SRT listener synchronously (with a timeout),
// returning an error if the connection fails. On success, ingest
// continues in a background goroutine until the source ends, Stop is
// called or ctx is cancelled.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	streamID := req.StreamID
	if streamID == "" {
		streamID = "live/" + req.StreamKey
	}
	conn, err := Dial(ctx, req.Address, streamID, req.Latency)
	if err != nil {
		return err
	}
	return c.startStreaming(ctx, req, conn)
}

// Dial connects to a remote SRT listener in caller mode with the given
// stream ID. It gives up after dialTimeout or when ctx is done. A
// non-positive latency selects the default.
func Dial(ctx context.Context, addr, streamID string, latency time.Duration) (*srtgo.Conn, error) {
	if latency <= 0 {
		latency = defaultLatency
	}
	cfg := srtgo.DefaultConfig()
	latencyValue(&cfg.Latency, latency)
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	// Drain the dial result in the background and close any leaked connection.
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)
	ap := &activePull{req: req, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	c.pulls[req.StreamKey] = ap
	c.mu.Unlock()

	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)

	go func() {
		<-pullCtx.Done()
		conn.Close()
	}()

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.pulls, req.StreamKey)
			c.mu.Unlock()
			close(ap.done)
		}()

		res, err := c.runner.Run(pullCtx, ingest.Input{
			Key:        req.StreamKey,
			Codec:      req.Codec,
			Format:     req.Format,
			RemoteAddr: req.Address,
			Reader:     conn,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debug("pull ended with error", "stream_key", req.StreamKey, "error", err)
		}
		c.log.Info("pull ended", "stream_key", req.StreamKey,
			"bytes", res.Session.BytesReceived, "reads", res.Session.ReadCount,
			"uptime_ms", res.Duration.Milliseconds())
	}()

	return nil
}

// Stop cancels the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for stream key %q", streamKey)
	}

	ap.cancel()
	return nil
}

// Wait blocks until the pull for streamKey has ended. It returns
// immediately when no such pull is active.
func (c *Caller) Wait(streamKey string) {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()
	if ok {
		<-ap.done
	}
}

// ActivePulls returns the active pull requests ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}
