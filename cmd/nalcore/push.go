package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	srtingest "github.com/zsiec/nalcore/internal/ingest/srt"
	"github.com/zsiec/nalcore/internal/mpegts"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

// pushChunkSize is seven transport packets, one SRT payload.
const pushChunkSize = mpegts.PacketSize * 7

type pushOptions struct {
	Addr     string
	StreamID string
	Rate     string
	Loops    int
}

func newPushCommand(a *app) *cobra.Command {
	opts := &pushOptions{}

	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Publish a file to an SRT listener",
		Long: `Push sends a file to an SRT listener in caller mode, paced to --rate bytes
per second. The stream ID defaults to live/<file name> and names the
format or codec the file extension implies, so a nalcore server ingests it
without further configuration.`,
		Example: `  nalcore push --addr 127.0.0.1:6000 cam1.h264
  nalcore push --rate 1MB --loops 0 recording.ts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, a, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Addr, "addr", "127.0.0.1:6000", "SRT listener address")
	flags.StringVar(&opts.StreamID, "stream-id", "", "SRT stream ID (default derived from the file name)")
	flags.StringVar(&opts.Rate, "rate", "500KB", "Send rate per second, 0 to send as fast as possible")
	flags.IntVar(&opts.Loops, "loops", 1, "Times to send the file, 0 to repeat until interrupted")
	return cmd
}

func runPush(cmd *cobra.Command, a *app, opts *pushOptions, path string) error {
	rate, err := humanize.ParseBytes(opts.Rate)
	if err != nil {
		return fmt.Errorf("invalid --rate %q: %w", opts.Rate, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", path)
	}

	streamID := opts.StreamID
	if streamID == "" {
		streamID = defaultStreamID(path)
	}

	ctx := cmd.Context()
	conn, err := srtingest.Dial(ctx, opts.Addr, streamID, a.cfg.SRTLatency)
	if err != nil {
		return err
	}
	defer conn.Close()

	a.log.Info("pushing", "file", path, "stream_id", streamID, "addr", opts.Addr,
		"size", humanize.Bytes(uint64(len(data))), "rate", humanize.Bytes(rate)+"/s")
	sent, err := pushPaced(ctx, conn, data, rate, opts.Loops)
	a.log.Info("push finished", "sent", humanize.Bytes(uint64(sent)))
	return ignoreCanceled(err)
}

// pushPaced writes data to w in pushChunkSize chunks, loops times or until
// ctx is done when loops is zero. With a non-zero rate the writes are paced
// against the start time so pacing stays continuous across loops.
func pushPaced(ctx context.Context, w io.Writer, data []byte, rate uint64, loops int) (int64, error) {
	start := time.Now()
	var sent int64
	for loop := 0; loops <= 0 || loop < loops; loop++ {
		for i := 0; i < len(data); i += pushChunkSize {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			end := min(i+pushChunkSize, len(data))
			if _, err := w.Write(data[i:end]); err != nil {
				return sent, err
			}
			sent += int64(end - i)

			if rate == 0 {
				continue
			}
			due := time.Duration(float64(sent) / float64(rate) * float64(time.Second))
			if wait := due - time.Since(start); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return sent, ctx.Err()
				case <-timer.C:
				}
			}
		}
	}
	return sent, nil
}

// defaultStreamID derives "live/<name>" from path, with the format or codec
// query the extension implies.
func defaultStreamID(path string) string {
	base := filepath.Base(path)
	id := "live/" + strings.TrimSuffix(base, filepath.Ext(base))

	q := url.Values{}
	if formatForFile(path, pipeline.FormatAnnexB) == pipeline.FormatMPEGTS {
		q.Set("format", "ts")
	} else if c := codecForFile(path, nalu.CodecUnknown); c != nalu.CodecUnknown {
		q.Set("codec", c.String())
	}
	if len(q) > 0 {
		id += "?" + q.Encode()
	}
	return id
}
