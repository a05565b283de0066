package srt

import (
	"net/url"
	"strings"
	"time"

	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

// defaultLatency is the SRT latency used when none is configured.
const defaultLatency = 120 * time.Millisecond

// dialTimeout bounds Caller dials.
const dialTimeout = 10 * time.Second

// latencyValue converts d to the integer type of the SRT latency setting.
func latencyValue[T ~int64](dst *T, d time.Duration) {
	*dst = T(d)
}

// parseStreamID splits an SRT stream ID of the form
// "[/][live/]key[?codec=name][&format=name]" into the stream key, codec and
// input format. A missing or unknown codec or format yields the default.
func parseStreamID(streamID string, def nalu.Codec, defFormat pipeline.Format) (string, nalu.Codec, pipeline.Format) {
	codec, format := def, defFormat
	if i := strings.IndexByte(streamID, '?'); i >= 0 {
		if q, err := url.ParseQuery(streamID[i+1:]); err == nil {
			if c, err := nalu.ParseCodec(q.Get("codec")); err == nil {
				codec = c
			}
			if v := q.Get("format"); v != "" {
				if f, err := pipeline.ParseFormat(v); err == nil {
					format = f
				}
			}
		}
		streamID = streamID[:i]
	}
	return extractStreamKey(streamID), codec, format
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
