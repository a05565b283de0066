package accessunit

import "bytes"

// State is the position of a Config in its lifecycle.
type State int

// Config states. A new SPS always returns the config to StateHasSPS.
const (
	StateEmpty State = iota
	StateHasSPS
	StateHasSPSAndPPS
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateHasSPS:
		return "has-sps"
	case StateHasSPSAndPPS:
		return "has-sps-and-pps"
	}
	return "unknown"
}

// Config is the parameter-set prefix placed ahead of keyframes: the latest
// VPS (H.265 only), the latest SPS and every distinct PPS seen since that
// SPS. Units are stored with their start codes.
type Config struct {
	state State
	vps   []byte
	sps   []byte
	pps   [][]byte
	buf   []byte
}

// State returns the current state.
func (c *Config) State() State {
	return c.state
}

// SetVPS replaces the cached VPS. The SPS and PPS are kept; an encoder
// that changes its VPS sends a new SPS right after.
func (c *Config) SetVPS(unit []byte) {
	c.vps = bytes.Clone(unit)
	c.rebuild()
}

// SetSPS replaces the config with unit and drops every PPS.
func (c *Config) SetSPS(unit []byte) {
	c.sps = bytes.Clone(unit)
	c.pps = c.pps[:0]
	c.state = StateHasSPS
	c.rebuild()
}

// AddPPS appends unit after the SPS. It reports false when the unit was
// dropped: there is no SPS yet, or the same PPS is already present.
func (c *Config) AddPPS(unit []byte) bool {
	if c.state == StateEmpty {
		return false
	}
	for _, p := range c.pps {
		if bytes.Equal(p, unit) {
			return false
		}
	}
	c.pps = append(c.pps, bytes.Clone(unit))
	c.state = StateHasSPSAndPPS
	c.buf = append(c.buf, unit...)
	return true
}

// Bytes returns VPS ++ SPS ++ PPS... The slice is owned by the Config and
// only valid until the next mutation.
func (c *Config) Bytes() []byte {
	return c.buf
}

// Reset returns the config to StateEmpty.
func (c *Config) Reset() {
	*c = Config{}
}

func (c *Config) rebuild() {
	c.buf = c.buf[:0]
	if c.state == StateEmpty {
		return
	}
	c.buf = append(c.buf, c.vps...)
	c.buf = append(c.buf, c.sps...)
	for _, p := range c.pps {
		c.buf = append(c.buf, p...)
	}
}
