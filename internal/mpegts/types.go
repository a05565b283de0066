// Package mpegts extracts H.264 and H.265 elementary streams from MPEG
// transport streams. It discovers the video stream through the PAT and PMT,
// reassembles its PES packets with continuity checks and hands out each PES
// payload with its timestamps.
package mpegts

import (
	"errors"

	"github.com/zsiec/nalcore/internal/nalu"
)

// PacketSize is the size of a transport stream packet.
const PacketSize = 188

const (
	syncByte = 0x47
	pidPAT   = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// Video stream types, ISO/IEC 13818-1 Table 2-34.
const (
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
)

// ErrNoVideo is returned when the stream ends before a program map
// announced an H.264 or H.265 elementary stream.
var ErrNoVideo = errors.New("mpegts: no H.264 or H.265 stream found")

// ElementaryStream is one entry of a program map.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// Codec maps the stream type to a video codec, or nalu.CodecUnknown.
func (es ElementaryStream) Codec() nalu.Codec {
	switch es.StreamType {
	case StreamTypeH264:
		return nalu.H264
	case StreamTypeH265:
		return nalu.H265
	}
	return nalu.CodecUnknown
}

// Unit is one reassembled video PES payload: Annex-B data, normally a
// complete access unit.
type Unit struct {
	Data   []byte
	PTS    int64 // 90 kHz, valid when HasPTS
	DTS    int64 // 90 kHz, equals PTS when the PES carried none
	HasPTS bool
}

// Stats counts transport-level events.
type Stats struct {
	Packets         int64
	CorruptPackets  int64
	Discontinuities int64
	Units           int64
}
