package mpegts

import (
	"errors"
	"fmt"
)

var errCRC = errors.New("mpegts: CRC32 mismatch")

// sections splits a PSI payload, pointer field included, into its
// sections. complete is false while the last section is still truncated.
func sections(payload []byte) (secs [][]byte, complete bool) {
	if len(payload) < 1 {
		return nil, false
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, false
	}

	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return secs, true
		}
		if offset+3 > len(payload) {
			return secs, false
		}
		// section_syntax_indicator is set for PAT and PMT; anything else
		// is padding.
		if payload[offset+1]&0x80 == 0 {
			return secs, true
		}
		end := offset + 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if end > len(payload) {
			return secs, false
		}
		secs = append(secs, payload[offset:end])
		offset = end
	}
	return secs, true
}

// parsePAT returns the PMT PIDs of a program association section.
func parsePAT(sec []byte) ([]uint16, error) {
	// 8 header bytes, the program loop, 4 CRC bytes.
	if len(sec) < 12 {
		return nil, fmt.Errorf("mpegts: PAT section too short (%d bytes)", len(sec))
	}
	if crc32MPEG(sec) != 0 {
		return nil, fmt.Errorf("PAT: %w", errCRC)
	}

	var pids []uint16
	for i := 8; i+4 <= len(sec)-4; i += 4 {
		program := uint16(sec[i])<<8 | uint16(sec[i+1])
		if program == 0 {
			continue // network PID
		}
		pids = append(pids, uint16(sec[i+2]&0x1F)<<8|uint16(sec[i+3]))
	}
	return pids, nil
}

// parsePMT returns the elementary streams of a program map section.
func parsePMT(sec []byte) ([]ElementaryStream, error) {
	// 12 header bytes, descriptors and the stream loop, 4 CRC bytes.
	if len(sec) < 16 {
		return nil, fmt.Errorf("mpegts: PMT section too short (%d bytes)", len(sec))
	}
	if crc32MPEG(sec) != 0 {
		return nil, fmt.Errorf("PMT: %w", errCRC)
	}

	end := len(sec) - 4
	offset := 12 + (int(sec[10]&0x0F)<<8 | int(sec[11]))

	var streams []ElementaryStream
	for offset+5 <= end {
		streams = append(streams, ElementaryStream{
			StreamType: sec[offset],
			PID:        uint16(sec[offset+1]&0x1F)<<8 | uint16(sec[offset+2]),
		})
		offset += 5 + (int(sec[offset+3]&0x0F)<<8 | int(sec[offset+4]))
	}
	return streams, nil
}
