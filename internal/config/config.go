// Package config loads viewer settings and the command/memory-layout
// configuration that colors a trace.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/loader"
	"github.com/daviddao/ramwiz_viewer/internal/lod"
	"github.com/daviddao/ramwiz_viewer/internal/view"
)

// EnvPrefix prefixes every environment override, e.g. RAMWIZ_LOADER_BATCH_SIZE.
const EnvPrefix = "RAMWIZ"

// Config is the viewer's application configuration.
type Config struct {
	Schema   string       `mapstructure:"schema" yaml:"schema"`
	Trace    string       `mapstructure:"trace" yaml:"trace,omitempty"`
	Commands string       `mapstructure:"commands" yaml:"commands,omitempty"`
	LogFile  string       `mapstructure:"log_file" yaml:"log_file,omitempty"`
	Loader   LoaderConfig `mapstructure:"loader" yaml:"loader"`
	LOD      LODConfig    `mapstructure:"lod" yaml:"lod"`
	Render   RenderConfig `mapstructure:"render" yaml:"render"`
	View     ViewConfig   `mapstructure:"view" yaml:"view"`
	Stats    StatsConfig  `mapstructure:"stats" yaml:"stats"`
}

type LoaderConfig struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

type LODConfig struct {
	Factors   []uint32 `mapstructure:"factors" yaml:"factors"`
	Threshold float64  `mapstructure:"threshold" yaml:"threshold"`
}

type RenderConfig struct {
	FPS  int  `mapstructure:"fps" yaml:"fps"`
	Grid bool `mapstructure:"grid" yaml:"grid"`
}

type ViewConfig struct {
	ZoomFactor float64 `mapstructure:"zoom_factor" yaml:"zoom_factor"`
}

type StatsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Schema:  decode.Compact.String(),
		LogFile: filepath.Join(os.TempDir(), "rwv.log"),
		Loader:  LoaderConfig{BatchSize: loader.DefaultBatchSize},
		LOD:     LODConfig{Factors: append([]uint32(nil), lod.DefaultFactors...), Threshold: lod.DefaultThreshold},
		Render:  RenderConfig{FPS: 30, Grid: true},
		View:    ViewConfig{ZoomFactor: view.DefaultZoomFactor},
	}
}

// DefaultPath returns $RAMWIZ_CONFIG or the per-user config file location.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "ramwiz", "config.yaml"), nil
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"schema":     "schema",
	"commands":   "commands",
	"log-file":   "log_file",
	"batch-size": "loader.batch_size",
	"threshold":  "lod.threshold",
	"fps":        "render.fps",
	"grid":       "render.grid",
	"stats-addr": "stats.addr",
}

// Load layers defaults, the YAML file at path, RAMWIZ_* environment variables
// and changed flags, in increasing precedence. An empty path uses
// DefaultPath, which may be absent; an explicit path must exist.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	cfg := Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("schema", cfg.Schema)
	v.SetDefault("trace", cfg.Trace)
	v.SetDefault("commands", cfg.Commands)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("loader.batch_size", cfg.Loader.BatchSize)
	v.SetDefault("lod.factors", cfg.LOD.Factors)
	v.SetDefault("lod.threshold", cfg.LOD.Threshold)
	v.SetDefault("render.fps", cfg.Render.FPS)
	v.SetDefault("render.grid", cfg.Render.Grid)
	v.SetDefault("view.zoom_factor", cfg.View.ZoomFactor)
	v.SetDefault("stats.addr", cfg.Stats.Addr)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if !missing || explicit {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := decode.ParseSchema(c.Schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if c.Loader.BatchSize <= 0 {
		return fmt.Errorf("loader.batch_size must be positive, got %d", c.Loader.BatchSize)
	}
	if len(c.LOD.Factors) == 0 || c.LOD.Factors[0] != 1 {
		return fmt.Errorf("lod.factors: %w: %v", lod.ErrFactors, c.LOD.Factors)
	}
	for i := 1; i < len(c.LOD.Factors); i++ {
		if c.LOD.Factors[i] <= c.LOD.Factors[i-1] {
			return fmt.Errorf("lod.factors: %w: %v", lod.ErrFactors, c.LOD.Factors)
		}
	}
	if c.LOD.Threshold <= 0 {
		return fmt.Errorf("lod.threshold must be positive, got %v", c.LOD.Threshold)
	}
	if c.Render.FPS < 1 || c.Render.FPS > 240 {
		return fmt.Errorf("render.fps must be within 1..240, got %d", c.Render.FPS)
	}
	if c.View.ZoomFactor <= 1 {
		return fmt.Errorf("view.zoom_factor must exceed 1, got %v", c.View.ZoomFactor)
	}
	return nil
}

// WireSchema returns the parsed schema.
func (c Config) WireSchema() decode.Schema {
	s, _ := decode.ParseSchema(c.Schema)
	return s
}
