// Package config loads nalcore settings from defaults, NALCORE_* environment
// variables, an optional config file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/nalcore/internal/nalu"
	"github.com/zsiec/nalcore/internal/pipeline"
)

// EnvPrefix prefixes every environment variable, e.g. NALCORE_SRT_ADDR.
const EnvPrefix = "NALCORE"

// Config keys.
const (
	KeySRTAddr       = "srt_addr"
	KeySRTLatency    = "srt_latency"
	KeyOutDir        = "out_dir"
	KeyReadSize      = "read_size"
	KeyDefaultCodec  = "default_codec"
	KeyInputFormat   = "input_format"
	KeyDebug         = "debug"
	KeyDefaultWidth  = "default_width"
	KeyDefaultHeight = "default_height"
)

// Config holds the runtime settings.
type Config struct {
	SRTAddr       string        `mapstructure:"srt_addr"`
	SRTLatency    time.Duration `mapstructure:"srt_latency"`
	OutDir        string        `mapstructure:"out_dir"`
	ReadSize      int           `mapstructure:"read_size"`
	DefaultCodec  string        `mapstructure:"default_codec"`
	InputFormat   string        `mapstructure:"input_format"`
	Debug         bool          `mapstructure:"debug"`
	DefaultWidth  int           `mapstructure:"default_width"`
	DefaultHeight int           `mapstructure:"default_height"`
}

// New returns a viper instance with defaults and environment bindings set.
// Callers bind flags on it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeySRTAddr, ":6000")
	v.SetDefault(KeySRTLatency, 120*time.Millisecond)
	v.SetDefault(KeyOutDir, ".")
	// Ten 1316-byte SRT payloads.
	v.SetDefault(KeyReadSize, 1316*10)
	v.SetDefault(KeyDefaultCodec, "h264")
	v.SetDefault(KeyInputFormat, "annexb")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyDefaultWidth, 1920)
	v.SetDefault(KeyDefaultHeight, 1080)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path and decodes the settings. An
// empty path looks for nalcore.yaml in the working directory and ignores
// its absence.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nalcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := nalu.ParseCodec(c.DefaultCodec); err != nil {
		return fmt.Errorf("%s: %w", KeyDefaultCodec, err)
	}
	if _, err := pipeline.ParseFormat(c.InputFormat); err != nil {
		return fmt.Errorf("%s: %w", KeyInputFormat, err)
	}
	if c.ReadSize <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyReadSize, c.ReadSize)
	}
	if c.DefaultWidth <= 0 || c.DefaultHeight <= 0 {
		return fmt.Errorf("default resolution must be positive, got %dx%d", c.DefaultWidth, c.DefaultHeight)
	}
	if c.SRTLatency < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeySRTLatency, c.SRTLatency)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%s must not be empty", KeyOutDir)
	}
	return nil
}

// Codec returns the parsed default codec. It is valid after Validate.
func (c Config) Codec() nalu.Codec {
	codec, _ := nalu.ParseCodec(c.DefaultCodec)
	return codec
}

// Format returns the parsed input format. It is valid after Validate.
func (c Config) Format() pipeline.Format {
	format, _ := pipeline.ParseFormat(c.InputFormat)
	return format
}
