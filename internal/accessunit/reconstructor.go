// Package accessunit turns indexed NAL units into self-contained access
// units: parameter sets are cached and prefixed to every keyframe, all other
// units are forwarded as they arrive.
package accessunit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/nalcore/internal/h264"
	"github.com/zsiec/nalcore/internal/h265"
	"github.com/zsiec/nalcore/internal/media"
	"github.com/zsiec/nalcore/internal/nalu"
)

// Resolution reported until a valid SPS has been decoded.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Consumer receives reconstructed access units. Feed is called with the
// reconstructor's lock held and must not call Push on the same
// Reconstructor.
type Consumer interface {
	Feed(au media.AccessUnit)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(au media.AccessUnit)

// Feed calls f(au).
func (f ConsumerFunc) Feed(au media.AccessUnit) { f(au) }

// Params summarizes the most recently decoded SPS.
type Params struct {
	Width       int
	Height      int
	CodecString string
	FrameRate   float64
	InStream    bool // decoded from the elementary stream, not out-of-band
}

// Stats is a snapshot of reconstructor counters.
type Stats struct {
	Buffers            uint64
	Bytes              uint64
	NALUs              uint64
	AccessUnits        uint64
	Keyframes          uint64
	ParameterSetErrors uint64
	DroppedPPS         uint64
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithDefaultResolution overrides the resolution reported before the first
// SPS is decoded.
func WithDefaultResolution(width, height int) Option {
	return func(r *Reconstructor) {
		if width > 0 && height > 0 {
			r.width.Store(int64(width))
			r.height.Store(int64(height))
		}
	}
}

// Reconstructor owns the parameter-set config of one video session.
type Reconstructor struct {
	codec    nalu.Codec
	consumer Consumer
	log      *slog.Logger

	mu       sync.Mutex
	cfg      Config
	params   Params
	inStream bool

	width  atomic.Int64
	height atomic.Int64

	buffers     atomic.Uint64
	bytes       atomic.Uint64
	nalus       atomic.Uint64
	accessUnits atomic.Uint64
	keyframes   atomic.Uint64
	psErrors    atomic.Uint64
	droppedPPS  atomic.Uint64
}

// New creates a Reconstructor for codec delivering to consumer. If log is
// nil, slog.Default() is used.
func New(codec nalu.Codec, consumer Consumer, log *slog.Logger, opts ...Option) *Reconstructor {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconstructor{
		codec:    codec,
		consumer: consumer,
		log:      log.With("component", "accessunit", "codec", codec.String()),
	}
	r.width.Store(DefaultWidth)
	r.height.Store(DefaultHeight)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Codec returns the codec the reconstructor classifies units with.
func (r *Reconstructor) Codec() nalu.Codec {
	return r.codec
}

// Width returns the width of the most recently decoded SPS.
func (r *Reconstructor) Width() int {
	return int(r.width.Load())
}

// Height returns the height of the most recently decoded SPS.
func (r *Reconstructor) Height() int {
	return int(r.height.Load())
}

// Params returns the summary of the most recently decoded SPS.
func (r *Reconstructor) Params() Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.params
	p.Width, p.Height = r.Width(), r.Height()
	return p
}

// State returns the state of the parameter-set config.
func (r *Reconstructor) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.State()
}

// Stats returns a snapshot of the counters.
func (r *Reconstructor) Stats() Stats {
	return Stats{
		Buffers:            r.buffers.Load(),
		Bytes:              r.bytes.Load(),
		NALUs:              r.nalus.Load(),
		AccessUnits:        r.accessUnits.Load(),
		Keyframes:          r.keyframes.Load(),
		ParameterSetErrors: r.psErrors.Load(),
		DroppedPPS:         r.droppedPPS.Load(),
	}
}

// Reset drops the cached parameter sets. The last known resolution is kept.
func (r *Reconstructor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Reset()
	r.inStream = false
}

// Push indexes buf and processes its NAL units in order. Every non
// parameter-set unit is delivered to the consumer with pts. Parameter sets
// that fail to decode are reported in the returned error but never stop the
// remaining units from being processed.
func (r *Reconstructor) Push(buf []byte, pts int64) error {
	r.buffers.Add(1)
	r.bytes.Add(uint64(len(buf)))

	indices := nalu.FindIndices(buf)

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, ix := range indices {
		if err := r.handle(ix.Unit(buf), ix.Payload(buf), pts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconstructor) handle(unit, payload []byte, pts int64) error {
	if len(payload) == 0 {
		return nil
	}
	r.nalus.Add(1)
	typ := r.codec.Type(payload[0])

	switch {
	case r.codec.IsVPS(typ):
		r.cfg.SetVPS(unit)
		return nil

	case r.codec.IsSPS(typ):
		r.cfg.SetSPS(unit)
		if err := r.decodeSPS(payload, true); err != nil {
			r.psErrors.Add(1)
			r.log.Warn("sps decode failed, keeping last resolution",
				"error", err, "width", r.Width(), "height", r.Height())
			return err
		}
		return nil

	case r.codec.IsPPS(typ):
		if !r.cfg.AddPPS(unit) {
			r.droppedPPS.Add(1)
			r.log.Debug("pps dropped", "state", r.cfg.State())
		}
		return nil

	case r.codec.IsSEI(typ):
		return nil
	}

	au := media.AccessUnit{
		PTS:        pts,
		IsKeyframe: r.codec.IsKeyframe(typ),
		Codec:      r.codec,
		Type:       typ,
	}
	if au.IsKeyframe {
		prefix := r.cfg.Bytes()
		au.Data = make([]byte, 0, len(prefix)+len(unit))
		au.Data = append(au.Data, prefix...)
		au.Data = append(au.Data, unit...)
		r.keyframes.Add(1)
		if r.cfg.State() != StateHasSPSAndPPS {
			r.log.Debug("keyframe without complete parameter sets", "state", r.cfg.State())
		}
	} else {
		au.Data = append([]byte(nil), unit...)
	}
	r.accessUnits.Add(1)
	r.consumer.Feed(au)
	return nil
}

// SetOutOfBandParameterSets accepts parameter sets delivered outside the
// elementary stream, such as SDP sprop-parameter-sets, as raw NAL units
// without start codes. They seed the config only while it is empty, and
// their SPS sets the resolution only until an in-stream SPS was decoded.
func (r *Reconstructor) SetOutOfBandParameterSets(units [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seed := r.cfg.State() == StateEmpty
	var errs []error
	for _, payload := range units {
		if len(payload) == 0 {
			continue
		}
		typ := r.codec.Type(payload[0])
		unit := append(append([]byte(nil), startCode...), payload...)

		switch {
		case r.codec.IsVPS(typ):
			if seed {
				r.cfg.SetVPS(unit)
			}
		case r.codec.IsSPS(typ):
			if seed {
				r.cfg.SetSPS(unit)
			}
			if r.inStream {
				continue
			}
			if err := r.decodeSPS(payload, false); err != nil {
				r.psErrors.Add(1)
				r.log.Warn("out-of-band sps decode failed", "error", err)
				errs = append(errs, err)
			}
		case r.codec.IsPPS(typ):
			if seed && !r.cfg.AddPPS(unit) {
				r.droppedPPS.Add(1)
			}
		default:
			errs = append(errs, fmt.Errorf("out-of-band nal unit type %d is not a parameter set", typ))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconstructor) decodeSPS(payload []byte, inStream bool) error {
	var p Params
	switch r.codec {
	case nalu.H265:
		sps, err := h265.ParseSPS(payload)
		if err != nil {
			return err
		}
		p = Params{Width: sps.Width, Height: sps.Height, CodecString: sps.CodecString()}
	default:
		sps, err := h264.ParseSPS(payload)
		if err != nil {
			return err
		}
		p = Params{Width: sps.Width, Height: sps.Height, CodecString: sps.CodecString(), FrameRate: sps.FrameRate()}
	}
	p.InStream = inStream

	if p.Width != r.Width() || p.Height != r.Height() {
		r.log.Info("resolution changed", "width", p.Width, "height", p.Height,
			"codec_string", p.CodecString, "in_stream", inStream)
	}
	r.width.Store(int64(p.Width))
	r.height.Store(int64(p.Height))
	r.params = p
	if inStream {
		r.inStream = true
	}
	return nil
}
