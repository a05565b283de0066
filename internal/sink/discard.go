package sink

import (
	"io"
	"log/slog"
)

// Discard returns a Writer that counts access units without storing them.
func Discard(log *slog.Logger) *Writer {
	return NewWriter(io.Discard, log)
}
