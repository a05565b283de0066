// Package media defines the access unit type that flows from the
// reconstructor to decode consumers.
package media

import "github.com/zsiec/nalcore/internal/nalu"

// AccessUnitBufferSize sizes channels between a reconstructor and a
// consumer running on its own goroutine: about two seconds of 30 fps video.
const AccessUnitBufferSize = 60

// AccessUnit is one buffer handed to a decode consumer. Data is Annex-B
// framed. Keyframes carry the active parameter sets ahead of the slice so a
// decoder can start from any keyframe.
type AccessUnit struct {
	Data       []byte
	PTS        int64 // timestamp of the transport buffer, passed through unchanged
	IsKeyframe bool
	Codec      nalu.Codec
	Type       nalu.Type
}
