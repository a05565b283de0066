// Package session adapts a transport's per-session callbacks (codec
// announcement, payload delivery, out-of-band parameter sets) to an
// access-unit reconstructor, and tracks the active sessions.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/nalcore/internal/accessunit"
	"github.com/zsiec/nalcore/internal/nalu"
)

// ErrNoSession is returned for calls that need an accepted codec before
// OnNewSession succeeded.
var ErrNoSession = errors.New("session: no accepted video session")

// Stats is a snapshot of session counters.
type Stats struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	Codec         string            `json:"codec"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	BytesReceived int64             `json:"bytesReceived"`
	ReadCount     int64             `json:"readCount"`
	Dropped       int64             `json:"dropped"`
	UptimeMs      int64             `json:"uptimeMs"`
	RemoteAddr    string            `json:"remoteAddr"`
	Reconstructor accessunit.Stats  `json:"reconstructor"`
	Params        accessunit.Params `json:"params"`
}

// Session is one video session of a transport connection.
type Session struct {
	ID        string
	Key       string
	StartedAt time.Time

	log      *slog.Logger
	consumer accessunit.Consumer
	opts     []accessunit.Option

	defaultWidth  int
	defaultHeight int

	mu  sync.RWMutex
	rec *accessunit.Reconstructor

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	dropped       atomic.Int64
	remoteAddr    atomic.Value

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session delivering access units to consumer. If log is
// nil, slog.Default() is used.
func New(key string, consumer accessunit.Consumer, log *slog.Logger, opts ...accessunit.Option) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	// A codec-less reconstructor reports the resolution every later one
	// starts from.
	probe := accessunit.New(nalu.CodecUnknown, nil, log, opts...)
	return &Session{
		ID:            id,
		Key:           key,
		StartedAt:     time.Now(),
		log:           log.With("component", "session", "session", id, "key", key),
		consumer:      consumer,
		opts:          opts,
		defaultWidth:  probe.Width(),
		defaultHeight: probe.Height(),
		done:          make(chan struct{}),
	}
}

// OnNewSession is called by the transport when it announces a video
// stream. It reports whether the codec is supported. Announcing again, as a
// transport does after a restart, replaces the reconstructor and with it
// every cached parameter set.
func (s *Session) OnNewSession(codecName string) bool {
	codec, err := nalu.ParseCodec(codecName)
	if err != nil {
		s.log.Warn("rejecting video session", "error", err)
		return false
	}

	rec := accessunit.New(codec, s.consumer, s.log, s.opts...)
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()

	s.log.Info("video session accepted", "codec", codec.String())
	return true
}

// OnData processes one payload buffer from the transport. Buffers received
// before a codec was accepted are dropped.
func (s *Session) OnData(buf []byte, pts int64) {
	s.bytesReceived.Add(int64(len(buf)))
	s.readCount.Add(1)

	s.mu.RLock()
	rec := s.rec
	s.mu.RUnlock()
	if rec == nil {
		s.dropped.Add(1)
		return
	}
	if err := rec.Push(buf, pts); err != nil {
		s.log.Debug("buffer had undecodable parameter sets", "error", err)
	}
}

// SetOutOfBandParameterSets feeds base64 parameter sets from the session
// description, in sprop-parameter-sets format, to the reconstructor.
func (s *Session) SetOutOfBandParameterSets(sprop string) error {
	units, err := ParseSpropParameterSets(sprop)
	if err != nil {
		return err
	}
	return s.setOutOfBand(units)
}

// SetFmtp feeds the parameter sets of an SDP fmtp attribute to the
// reconstructor.
func (s *Session) SetFmtp(fmtp string) error {
	units, err := ParseFmtp(fmtp)
	if err != nil {
		return err
	}
	return s.setOutOfBand(units)
}

func (s *Session) setOutOfBand(units [][]byte) error {
	rec := s.reconstructor()
	if rec == nil {
		return ErrNoSession
	}
	if err := rec.SetOutOfBandParameterSets(units); err != nil {
		s.log.Warn("out-of-band parameter sets rejected", "error", err)
		return err
	}
	s.log.Debug("out-of-band parameter sets applied", "units", len(units))
	return nil
}

// Codec returns the accepted codec, or nalu.CodecUnknown.
func (s *Session) Codec() nalu.Codec {
	if rec := s.reconstructor(); rec != nil {
		return rec.Codec()
	}
	return nalu.CodecUnknown
}

// Width returns the width of the most recently decoded SPS, or the default
// width while none was decoded.
func (s *Session) Width() int {
	if rec := s.reconstructor(); rec != nil {
		return rec.Width()
	}
	return s.defaultWidth
}

// Height returns the height of the most recently decoded SPS, or the
// default height while none was decoded.
func (s *Session) Height() int {
	if rec := s.reconstructor(); rec != nil {
		return rec.Height()
	}
	return s.defaultHeight
}

// SetRemoteAddr records the peer address for diagnostics.
func (s *Session) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	st := Stats{
		ID:            s.ID,
		Key:           s.Key,
		Codec:         s.Codec().String(),
		Width:         s.Width(),
		Height:        s.Height(),
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		Dropped:       s.dropped.Load(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
	if rec := s.reconstructor(); rec != nil {
		st.Reconstructor = rec.Stats()
		st.Params = rec.Params()
	}
	return st
}

// Close ends the session. Buffers delivered afterwards are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.rec = nil
		s.mu.Unlock()
		close(s.done)
		s.log.Info("session closed", "bytes", s.bytesReceived.Load())
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) reconstructor() *accessunit.Reconstructor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}
