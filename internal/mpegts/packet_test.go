package mpegts

import (
	"bytes"
	"encoding/binary"
	"testing"
)

const payloadSize = PacketSize - 4

// tsPacket builds a packet carrying exactly payload, padding with an
// adaptation field when it is shorter than a full packet.
func tsPacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	if len(payload) > payloadSize {
		panic("payload too large")
	}
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F

	offset := 4
	if len(payload) < payloadSize {
		afLen := payloadSize - len(payload) - 1
		buf[3] |= 0x20
		buf[4] = byte(afLen)
		if afLen > 0 {
			buf[5] = 0x00
			for i := 6; i < 5+afLen; i++ {
				buf[i] = 0xFF
			}
		}
		offset = 5 + afLen
	}
	copy(buf[offset:], payload)
	return buf
}

// psiPacket builds a packet carrying one section after a zero pointer
// field, stuffed with 0xFF.
func psiPacket(pid uint16, cc uint8, section []byte) []byte {
	payload := bytes.Repeat([]byte{0xFF}, payloadSize)
	payload[0] = 0x00
	copy(payload[1:], section)
	return tsPacket(pid, cc, true, payload)
}

func withCRC(sec []byte) []byte {
	return binary.BigEndian.AppendUint32(sec, crc32MPEG(sec))
}

func patSection(pmtPID uint16) []byte {
	sec := []byte{
		tableIDPAT, 0xB0, 13,
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	return withCRC(sec)
}

func pmtSection(pcrPID uint16, streams ...ElementaryStream) []byte {
	length := 9 + 5*len(streams) + 4
	sec := []byte{
		tableIDPMT, 0xB0 | byte(length>>8), byte(length),
		0x00, 0x01, // program_number
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00,
	}
	for _, es := range streams {
		sec = append(sec, es.StreamType, 0xE0|byte(es.PID>>8), byte(es.PID), 0xF0, 0x00)
	}
	return withCRC(sec)
}

func encodeTimestamp(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29)&0x0E | 0x01,
		byte(ts >> 22),
		byte(ts>>14)&0xFE | 0x01,
		byte(ts >> 7),
		byte(ts<<1)&0xFE | 0x01,
	}
}

// pesPacket builds a video PES packet. A negative pts omits the
// timestamps; a negative dts omits only the DTS.
func pesPacket(pts, dts int64, data []byte) []byte {
	buf := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00, 0x80}
	switch {
	case pts < 0:
		buf = append(buf, 0x00, 0x00)
	case dts < 0:
		buf = append(buf, 0x80, 5)
		buf = append(buf, encodeTimestamp(0x2, pts)...)
	default:
		buf = append(buf, 0xC0, 10)
		buf = append(buf, encodeTimestamp(0x3, pts)...)
		buf = append(buf, encodeTimestamp(0x1, dts)...)
	}
	return append(buf, data...)
}

// pesPackets splits a PES packet over transport packets starting at cc.
func pesPackets(pid uint16, cc uint8, pes []byte) [][]byte {
	var pkts [][]byte
	for first := true; len(pes) > 0; first = false {
		n := min(len(pes), payloadSize)
		pkts = append(pkts, tsPacket(pid, cc, first, pes[:n]))
		pes = pes[n:]
		cc = (cc + 1) & 0x0F
	}
	return pkts
}

func TestParsePacket(t *testing.T) {
	t.Parallel()
	payload := []byte{0x01, 0x02, 0x03}
	p, err := parsePacket(tsPacket(0x100, 5, true, payload))
	if err != nil {
		t.Fatal(err)
	}
	if p.pid != 0x100 {
		t.Errorf("pid = 0x%X, want 0x100", p.pid)
	}
	if p.cc != 5 {
		t.Errorf("cc = %d, want 5", p.cc)
	}
	if !p.pusi || !p.hasPayload || p.tei || p.discontinuity {
		t.Errorf("flags = %+v", p)
	}
	if !bytes.Equal(p.payload, payload) {
		t.Errorf("payload = %x, want %x", p.payload, payload)
	}
}

func TestParsePacketFullPayload(t *testing.T) {
	t.Parallel()
	payload := bytes.Repeat([]byte{0xAB}, payloadSize)
	p, err := parsePacket(tsPacket(0x1FFF, 15, false, payload))
	if err != nil {
		t.Fatal(err)
	}
	if p.pid != 0x1FFF || p.cc != 15 || p.pusi {
		t.Errorf("header = %+v", p)
	}
	if len(p.payload) != payloadSize {
		t.Errorf("payload length = %d, want %d", len(p.payload), payloadSize)
	}
}

func TestParsePacketFlags(t *testing.T) {
	t.Parallel()
	buf := tsPacket(0x100, 0, false, []byte{0x01})
	buf[1] |= 0x80
	buf[5] = 0x80
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !p.tei {
		t.Error("tei not set")
	}
	if !p.discontinuity {
		t.Error("discontinuity not set")
	}
}

func TestParsePacketAdaptationOnly(t *testing.T) {
	t.Parallel()
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[3] = 0x20
	buf[4] = 183
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if p.hasPayload || p.payload != nil {
		t.Errorf("payload = %x, want none", p.payload)
	}
}

func TestParsePacketErrors(t *testing.T) {
	t.Parallel()
	if _, err := parsePacket(make([]byte, 100)); err == nil {
		t.Error("expected error for short packet")
	}
	buf := tsPacket(0x100, 0, false, nil)
	buf[0] = 0x48
	if _, err := parsePacket(buf); err == nil {
		t.Error("expected error for bad sync byte")
	}
}
