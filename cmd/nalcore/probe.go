package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nalcore/internal/ingest"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

type probeOptions struct {
	OutDir   string
	Sprop    string
	Parallel int
}

func newProbeCommand(a *app) *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe <file>...",
		Short: "Reconstruct access units from Annex-B or MPEG-TS files",
		Long: `Probe reads each file, reconstructs its access units and reports resolution
and counters. Annex-B files are read in chunks; transport streams (.ts,
.m2ts) are demultiplexed and their codec is taken from the program map.
With --out the reconstructed elementary stream, with parameter sets ahead
of every keyframe, is written to the given directory.`,
		Example: `  nalcore probe capture.h264
  nalcore probe --codec h265 --out ./fixed cam1.bin cam2.bin
  nalcore probe recording.ts
  nalcore probe --sprop Z2QAH6zZQFAFu/8AAwAEagICAoAAAfSAAF3AB4wYyw==,aOvjyyLA capture.h264`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, a, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutDir, "out", "o", "", "Write reconstructed streams to this directory")
	flags.StringVar(&opts.Sprop, "sprop", "", "Out-of-band parameter sets (comma separated base64)")
	flags.IntVarP(&opts.Parallel, "parallel", "p", 4, "Files probed concurrently")
	return cmd
}

func runProbe(cmd *cobra.Command, a *app, opts *probeOptions, files []string) error {
	runner := a.runner(opts.OutDir)
	results := make([]ingest.Result, len(files))
	codecs := make([]nalu.Codec, len(files))
	formats := make([]pipeline.Format, len(files))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(opts.Parallel, 1))

	// Distinct files may share a base name; keys must stay unique.
	var keyMu sync.Mutex
	seen := make(map[string]int)
	keyFor := func(path string) string {
		keyMu.Lock()
		defer keyMu.Unlock()
		key := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s-%d", key, n)
		}
		return key
	}

	for i, path := range files {
		codecs[i] = codecForFile(path, a.cfg.Codec())
		formats[i] = formatForFile(path, a.cfg.Format())
		key := keyFor(path)
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := runner.Run(ctx, ingest.Input{
				Key:    key,
				Codec:  codecs[i],
				Format: formats[i],
				Sprop:  opts.Sprop,
				Reader: f,
			})
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ignoreCanceled(err)
	}

	return printProbe(cmd.OutOrStdout(), files, results)
}

func printProbe(w io.Writer, files []string, results []ingest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tFORMAT\tCODEC\tRESOLUTION\tCODEC STRING\tSIZE\tNALUS\tACCESS UNITS\tKEYFRAMES\tPS ERRORS")
	for i, res := range results {
		rec := res.Session.Reconstructor
		codecString := res.Session.Params.CodecString
		if codecString == "" {
			codecString = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%s\t%s\t%d\t%d\t%d\t%d\n",
			files[i],
			res.Pipeline.Format,
			res.Session.Codec,
			res.Session.Width, res.Session.Height,
			codecString,
			humanize.Bytes(uint64(res.Session.BytesReceived)),
			rec.NALUs,
			rec.AccessUnits,
			rec.Keyframes,
			rec.ParameterSetErrors,
		)
	}
	return tw.Flush()
}

// codecForFile infers the codec from well-known file extensions.
func codecForFile(path string, def nalu.Codec) nalu.Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h264", ".264", ".avc":
		return nalu.H264
	case ".h265", ".265", ".hevc":
		return nalu.H265
	}
	return def
}

// formatForFile recognises transport stream extensions.
func formatForFile(path string, def pipeline.Format) pipeline.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".m2ts", ".mts":
		return pipeline.FormatMPEGTS
	case ".h264", ".264", ".avc", ".h265", ".265", ".hevc":
		return pipeline.FormatAnnexB
	}
	return def
}
