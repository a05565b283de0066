package mpegts

// assembler reassembles the payload units (PES packets or PSI sections) of
// one PID.
type assembler struct {
	psi     bool
	buf     []byte
	started bool
	lastCC  uint8
	hasCC   bool
}

// add appends p and returns a completed unit, or nil. gap reports a
// continuity error that discarded buffered data.
func (a *assembler) add(p packet) (unit []byte, gap bool) {
	if p.tei {
		a.reset()
		return nil, false
	}
	if !p.hasPayload {
		return nil, false
	}

	if a.hasCC && !p.discontinuity {
		expected := (a.lastCC + 1) & 0x0F
		if p.cc == a.lastCC {
			return nil, false // duplicate
		}
		if p.cc != expected && a.started {
			a.reset()
			gap = true
		}
	}
	a.lastCC, a.hasCC = p.cc, true

	if p.pusi {
		if a.started && len(a.buf) > 0 {
			unit = a.buf
		}
		a.buf = append([]byte(nil), p.payload...)
		a.started = true
	} else if a.started {
		a.buf = append(a.buf, p.payload...)
	}

	if unit == nil && a.psi && a.started {
		if _, complete := sections(a.buf); complete {
			unit = a.buf
			a.buf, a.started = nil, false
		}
	}
	return unit, gap
}

// flush returns the buffered unit at end of stream.
func (a *assembler) flush() []byte {
	if !a.started || len(a.buf) == 0 {
		return nil
	}
	unit := a.buf
	a.reset()
	return unit
}

func (a *assembler) reset() {
	a.buf, a.started = nil, false
}
