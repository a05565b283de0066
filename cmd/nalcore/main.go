// Command nalcore inspects and ingests H.264/H.265 streams carried as raw
// Annex-B or in MPEG transport streams. It probes files, decodes
// out-of-band parameter sets and serves SRT ingest with access-unit
// reconstruction.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/nalcore/internal/accessunit"
	"github.com/zsiec/nalcore/internal/config"
	"github.com/zsiec/nalcore/internal/ingest"
	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/session"
	"github.com/zsiec/nalcore/internal/sink"
)

var version = "dev"

type app struct {
	v          *viper.Viper
	configFile string
	cfg        config.Config
	log        *slog.Logger
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "nalcore",
		Short:         "H.264/H.265 Annex-B stream toolkit",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default ./nalcore.yaml when present)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("codec", "", "Codec of inputs that do not name one (h264 or h265)")
	flags.String("format", "", "Format of inputs that do not name one (annexb or ts)")
	flags.Int("read-size", 0, "Input read size in bytes")
	flags.Int("default-width", 0, "Width reported before the first SPS")
	flags.Int("default-height", 0, "Height reported before the first SPS")
	mustBind(a.v.BindPFlag(config.KeyDebug, flags.Lookup("debug")))
	mustBind(a.v.BindPFlag(config.KeyDefaultCodec, flags.Lookup("codec")))
	mustBind(a.v.BindPFlag(config.KeyInputFormat, flags.Lookup("format")))
	mustBind(a.v.BindPFlag(config.KeyReadSize, flags.Lookup("read-size")))
	mustBind(a.v.BindPFlag(config.KeyDefaultWidth, flags.Lookup("default-width")))
	mustBind(a.v.BindPFlag(config.KeyDefaultHeight, flags.Lookup("default-height")))

	cmd.AddCommand(
		newProbeCommand(a),
		newSPSCommand(a),
		newServeCommand(a),
		newPushCommand(a),
	)
	return cmd
}

// load resolves the configuration and installs the default logger.
func (a *app) load() error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.log)
	return nil
}

// runner builds an ingest runner whose sessions use the configured default
// resolution. Outputs go to outDir, or are only counted when outDir is empty.
func (a *app) runner(outDir string) *ingest.Runner {
	mgr := session.NewManager(a.log, accessunit.WithDefaultResolution(a.cfg.DefaultWidth, a.cfg.DefaultHeight))
	open := func(key string, codec nalu.Codec) (ingest.Output, error) {
		if outDir == "" {
			return sink.Discard(a.log.With("stream", key)), nil
		}
		w, path, err := sink.CreateFile(outDir, key, codec, a.log)
		if err != nil {
			return nil, err
		}
		a.log.Info("writing stream", "stream", key, "path", path)
		return w, nil
	}
	return ingest.NewRunner(mgr, open, a.cfg.ReadSize, a.log)
}

// ignoreCanceled treats shutdown by signal as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}
