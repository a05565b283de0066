package mpegts

import "fmt"

// pesHeader is the part of a PES header the video path needs.
type pesHeader struct {
	pts, dts int64
	hasPTS   bool
}

// parsePES splits a reassembled PES packet into header and payload. Video
// PES packets usually leave PES_packet_length zero and run to the next
// unit start.
func parsePES(buf []byte) (pesHeader, []byte, error) {
	var h pesHeader
	if len(buf) < 9 {
		return h, nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(buf))
	}
	if buf[0] != 0 || buf[1] != 0 || buf[2] != 1 {
		return h, nil, fmt.Errorf("mpegts: invalid PES start code")
	}
	if buf[3]&0xF0 != 0xE0 {
		return h, nil, fmt.Errorf("mpegts: stream id 0x%02X is not video", buf[3])
	}

	end := len(buf)
	if n := int(buf[4])<<8 | int(buf[5]); n > 0 && 6+n < end {
		end = 6 + n
	}
	start := 9 + int(buf[8])
	if start > end {
		return h, nil, fmt.Errorf("mpegts: PES header length %d exceeds packet", buf[8])
	}

	switch buf[7] >> 6 {
	case 2:
		if start >= 14 {
			h.pts = timestamp(buf[9:14])
			h.dts = h.pts
			h.hasPTS = true
		}
	case 3:
		if start >= 19 {
			h.pts = timestamp(buf[9:14])
			h.dts = timestamp(buf[14:19])
			h.hasPTS = true
		}
	}
	return h, buf[start:end], nil
}

// timestamp decodes a 33-bit PTS or DTS field.
func timestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
