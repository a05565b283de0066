package mpegts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"

	"github.com/zsiec/nalcore/internal/nalu"
)

// VideoReader reads a transport stream and returns the PES payloads of the
// first H.264 or H.265 stream its program map announces.
type VideoReader struct {
	ctx context.Context
	r   io.Reader
	log *slog.Logger
	buf [PacketSize]byte

	pmtPIDs    map[uint16]bool
	assemblers map[uint16]*assembler
	video      *ElementaryStream
	pending    []Unit
	eof        bool
	stats      Stats
}

// NewVideoReader creates a VideoReader on r. If log is nil, slog.Default()
// is used.
func NewVideoReader(ctx context.Context, r io.Reader, log *slog.Logger) *VideoReader {
	if log == nil {
		log = slog.Default()
	}
	return &VideoReader{
		ctx:        ctx,
		r:          r,
		log:        log.With("component", "mpegts"),
		pmtPIDs:    make(map[uint16]bool),
		assemblers: make(map[uint16]*assembler),
	}
}

// Stream reads until a program map announced a video stream and returns
// it. Units read meanwhile are kept for Next. It returns ErrNoVideo when
// the input ends first.
func (vr *VideoReader) Stream() (ElementaryStream, error) {
	for vr.video == nil {
		if vr.eof {
			return ElementaryStream{}, ErrNoVideo
		}
		if err := vr.step(); err != nil {
			return ElementaryStream{}, err
		}
	}
	return *vr.video, nil
}

// Next returns the next video unit. It returns io.EOF after the last one.
func (vr *VideoReader) Next() (Unit, error) {
	for {
		if len(vr.pending) > 0 {
			u := vr.pending[0]
			vr.pending = vr.pending[1:]
			return u, nil
		}
		if vr.eof {
			if vr.video == nil {
				return Unit{}, ErrNoVideo
			}
			return Unit{}, io.EOF
		}
		if err := vr.step(); err != nil {
			return Unit{}, err
		}
	}
}

// Stats returns the transport counters.
func (vr *VideoReader) Stats() Stats {
	return vr.stats
}

// step reads and handles one packet. At end of input it flushes the
// buffered units and sets eof.
func (vr *VideoReader) step() error {
	if err := vr.ctx.Err(); err != nil {
		return err
	}

	if _, err := io.ReadFull(vr.r, vr.buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			vr.eof = true
			vr.drain()
			return nil
		}
		return err
	}
	vr.stats.Packets++

	p, err := parsePacket(vr.buf[:])
	if err != nil {
		vr.stats.CorruptPackets++
		return nil
	}
	vr.handle(p)
	return nil
}

func (vr *VideoReader) handle(p packet) {
	psi := p.pid == pidPAT || vr.pmtPIDs[p.pid]
	video := vr.video != nil && p.pid == vr.video.PID
	if !psi && !video {
		return
	}

	a, ok := vr.assemblers[p.pid]
	if !ok {
		a = &assembler{psi: psi}
		vr.assemblers[p.pid] = a
	}
	unit, gap := a.add(p)
	if gap {
		vr.stats.Discontinuities++
		vr.log.Debug("continuity error", "pid", p.pid)
	}
	if unit == nil {
		return
	}
	if psi {
		vr.handlePSI(unit)
	} else {
		vr.handlePES(unit)
	}
}

func (vr *VideoReader) handlePSI(payload []byte) {
	secs, _ := sections(payload)
	for _, sec := range secs {
		switch sec[0] {
		case tableIDPAT:
			pids, err := parsePAT(sec)
			if err != nil {
				vr.log.Debug("bad PAT", "error", err)
				continue
			}
			for _, pid := range pids {
				vr.pmtPIDs[pid] = true
			}
		case tableIDPMT:
			streams, err := parsePMT(sec)
			if err != nil {
				vr.log.Debug("bad PMT", "error", err)
				continue
			}
			vr.selectVideo(streams)
		}
	}
}

func (vr *VideoReader) selectVideo(streams []ElementaryStream) {
	if vr.video != nil {
		return
	}
	for _, es := range streams {
		if es.Codec() == nalu.CodecUnknown {
			continue
		}
		vr.video = &es
		vr.log.Info("video stream selected", "pid", es.PID, "stream_type", es.StreamType, "codec", es.Codec().String())
		return
	}
}

func (vr *VideoReader) handlePES(buf []byte) {
	h, data, err := parsePES(buf)
	if err != nil {
		vr.stats.CorruptPackets++
		vr.log.Debug("bad PES", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	vr.stats.Units++
	vr.pending = append(vr.pending, Unit{Data: data, PTS: h.pts, DTS: h.dts, HasPTS: h.hasPTS})
}

// drain flushes every assembler, PSI PIDs first so a program map completed
// by the final packets can still select the video stream.
func (vr *VideoReader) drain() {
	pids := make([]uint16, 0, len(vr.assemblers))
	for pid := range vr.assemblers {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool {
		pi, pj := vr.assemblers[pids[i]].psi, vr.assemblers[pids[j]].psi
		if pi != pj {
			return pi
		}
		return pids[i] < pids[j]
	})

	for _, pid := range pids {
		a := vr.assemblers[pid]
		unit := a.flush()
		if unit == nil {
			continue
		}
		if a.psi {
			vr.handlePSI(unit)
		} else if vr.video != nil && pid == vr.video.PID {
			vr.handlePES(unit)
		}
	}
}
