// Package sink provides access-unit consumers that persist reconstructed
// Annex-B elementary streams.
package sink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/zsiec/nalcore/internal/media"
	"github.com/zsiec/nalcore/internal/nalu"
)

// Writer is an access-unit consumer that appends every access unit to an
// io.Writer. Access units before the first keyframe are skipped so the
// output always starts decodable. Feed cannot report errors, so the first
// write failure is kept and returned by Err; later access units are
// discarded.
type Writer struct {
	log *slog.Logger

	mu        sync.Mutex
	w         io.Writer
	closer    io.Closer
	started   bool
	closed    bool
	err       error
	written   uint64
	units     uint64
	skipped   uint64
	keyframes uint64
}

// NewWriter creates a Writer on w. If w implements io.Closer it is closed
// by Close. If log is nil, slog.Default() is used.
func NewWriter(w io.Writer, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	sw := &Writer{
		log: log.With("component", "sink"),
		w:   w,
	}
	if c, ok := w.(io.Closer); ok {
		sw.closer = c
	}
	return sw
}

// Feed writes au. It implements accessunit.Consumer.
func (sw *Writer) Feed(au media.AccessUnit) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed || sw.err != nil {
		sw.skipped++
		return
	}
	if !sw.started {
		if !au.IsKeyframe {
			sw.skipped++
			return
		}
		sw.started = true
		sw.log.Debug("first keyframe", "pts", au.PTS, "bytes", len(au.Data))
	}

	n, err := sw.w.Write(au.Data)
	sw.written += uint64(n)
	if err != nil {
		sw.err = fmt.Errorf("write access unit: %w", err)
		sw.log.Error("sink write failed", "error", err)
		return
	}
	sw.units++
	if au.IsKeyframe {
		sw.keyframes++
	}
}

// Stats is a snapshot of a Writer's counters.
type Stats struct {
	BytesWritten uint64
	AccessUnits  uint64
	Keyframes    uint64
	Skipped      uint64
}

// Stats returns the writer counters.
func (sw *Writer) Stats() Stats {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return Stats{
		BytesWritten: sw.written,
		AccessUnits:  sw.units,
		Keyframes:    sw.keyframes,
		Skipped:      sw.skipped,
	}
}

// Err returns the first write failure.
func (sw *Writer) Err() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.err
}

// Close closes the underlying writer when it is closable. Access units
// fed after Close are discarded.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return nil
	}
	sw.closed = true
	var err error
	if sw.closer != nil {
		err = sw.closer.Close()
	}
	sw.log.Info("sink closed",
		"written", humanize.Bytes(sw.written),
		"access_units", sw.units,
		"keyframes", sw.keyframes,
		"skipped", sw.skipped,
	)
	return err
}

// Extension returns the conventional raw elementary stream file extension
// for codec.
func Extension(codec nalu.Codec) string {
	if codec == nalu.H265 {
		return ".h265"
	}
	return ".h264"
}

// CreateFile creates dir/<key><ext> and returns a Writer on it. Path
// separators in key are replaced so a stream key can never escape dir.
func CreateFile(dir, key string, codec nalu.Codec, log *slog.Logger) (*Writer, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output dir: %w", err)
	}
	name := sanitize(key)
	if name == "" {
		name = "stream"
	}
	path := filepath.Join(dir, name+Extension(codec))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create output file: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return NewWriter(f, log.With("path", path)), path, nil
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.Trim(key, "./\\"))
}
