package mpegts

import "fmt"

type packet struct {
	pid           uint16
	cc            uint8
	pusi          bool
	tei           bool
	discontinuity bool
	hasPayload    bool
	payload       []byte
}

// parsePacket decodes one transport packet. The payload aliases buf.
func parsePacket(buf []byte) (packet, error) {
	if len(buf) != PacketSize {
		return packet{}, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return packet{}, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := packet{
		tei:        buf[1]&0x80 != 0,
		pusi:       buf[1]&0x40 != 0,
		pid:        uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		hasPayload: buf[3]&0x10 != 0,
		cc:         buf[3] & 0x0F,
	}

	offset := 4
	if buf[3]&0x20 != 0 {
		afLen := int(buf[4])
		if afLen > 0 {
			p.discontinuity = buf[5]&0x80 != 0
		}
		offset += 1 + afLen
	}
	if p.hasPayload && offset < PacketSize {
		p.payload = buf[offset:]
	}
	return p, nil
}
