package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nalcore/internal/config"
	srtingest "github.com/zsiec/nalcore/internal/ingest/srt"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

type serveOptions struct {
	Pulls []string
}

func newServeCommand(a *app) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest H.264/H.265 streams over SRT",
		Long: `Serve accepts SRT publishers and writes each stream, with parameter sets
ahead of every keyframe, to <out-dir>/<stream key>.h264 or .h265. The
stream ID selects the key and optionally the codec and input format, e.g.
"live/cam1?codec=h265" or "live/cam1?format=ts". Remote SRT listeners can
be pulled with --pull.`,
		Example: `  nalcore serve --srt-addr :6000 --out-dir ./streams
  nalcore serve --format ts --pull cam2=10.0.0.5:9000
  nalcore serve --pull "cam3?codec=h265&format=ts=10.0.0.6:9000"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.String("srt-addr", "", "SRT listen address")
	flags.Duration("srt-latency", 0, "SRT latency")
	flags.String("out-dir", "", "Output directory")
	flags.StringArrayVar(&opts.Pulls, "pull", nil, "Pull key=host:port from a remote SRT listener (repeatable)")
	mustBind(a.v.BindPFlag(config.KeySRTAddr, flags.Lookup("srt-addr")))
	mustBind(a.v.BindPFlag(config.KeySRTLatency, flags.Lookup("srt-latency")))
	mustBind(a.v.BindPFlag(config.KeyOutDir, flags.Lookup("out-dir")))
	return cmd
}

func runServe(cmd *cobra.Command, a *app, opts *serveOptions) error {
	pulls, err := parsePulls(opts.Pulls, a.cfg)
	if err != nil {
		return err
	}

	runner := a.runner(a.cfg.OutDir)
	srv := srtingest.NewServer(srtingest.ServerConfig{
		Addr:    a.cfg.SRTAddr,
		Latency: a.cfg.SRTLatency,
		Codec:   a.cfg.Codec(),
		Format:  a.cfg.Format(),
	}, runner, a.log)
	caller := srtingest.NewCaller(runner, a.log)

	a.log.Info("nalcore starting",
		"version", version,
		"srt", a.cfg.SRTAddr,
		"out_dir", a.cfg.OutDir,
		"codec", a.cfg.DefaultCodec,
		"format", a.cfg.InputFormat,
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.Start(ctx)
	})
	for _, req := range pulls {
		if err := caller.Pull(ctx, req); err != nil {
			a.log.Error("pull failed", "stream_key", req.StreamKey, "address", req.Address, "error", err)
		}
	}

	if err := g.Wait(); err != nil {
		return ignoreCanceled(err)
	}
	for _, req := range caller.ActivePulls() {
		caller.Wait(req.StreamKey)
	}
	a.log.Info("nalcore stopped")
	return nil
}

// parsePulls parses key=host:port pull specs. The key may carry a query
// naming the codec and format, as in "cam2?codec=h265&format=ts=10.0.0.5:9000";
// the last '=' separates the address.
func parsePulls(specs []string, cfg config.Config) ([]srtingest.PullRequest, error) {
	reqs := make([]srtingest.PullRequest, 0, len(specs))
	for _, spec := range specs {
		i := strings.LastIndexByte(spec, '=')
		if i <= 0 || i == len(spec)-1 {
			return nil, fmt.Errorf("invalid --pull %q: want key=host:port", spec)
		}
		req := srtingest.PullRequest{
			StreamKey: spec[:i],
			Address:   spec[i+1:],
			Codec:     cfg.Codec(),
			Format:    cfg.Format(),
			Latency:   cfg.SRTLatency,
		}
		if k, query, ok := strings.Cut(req.StreamKey, "?"); ok {
			q, err := url.ParseQuery(query)
			if err != nil {
				return nil, fmt.Errorf("invalid --pull %q: %w", spec, err)
			}
			if v := q.Get("codec"); v != "" {
				if req.Codec, err = nalu.ParseCodec(v); err != nil {
					return nil, fmt.Errorf("invalid --pull %q: %w", spec, err)
				}
			}
			if v := q.Get("format"); v != "" {
				if req.Format, err = pipeline.ParseFormat(v); err != nil {
					return nil, fmt.Errorf("invalid --pull %q: %w", spec, err)
				}
			}
			req.StreamKey = k
		}
		if req.StreamKey == "" {
			return nil, fmt.Errorf("invalid --pull %q: empty stream key", spec)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
