// Package config loads lockstep.toml, the defaults scenarios fall back on
// when they do not set a value themselves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "lockstep.toml"

const (
	defaultBarrierTimeout = "10s"
	defaultGracePeriod    = "2s"
	defaultReadyTimeout   = "5s"
	defaultReadyInterval  = "20ms"
	defaultChannelKind    = "file"
	defaultMaxBytes       = 4 << 20
	defaultStorePath      = "lockstep.db"
	defaultLogLevel       = "info"
)

type Config struct {
	Barrier BarrierConfig `toml:"barrier"`
	Process ProcessConfig `toml:"process"`
	Channel ChannelConfig `toml:"channel"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
}

type BarrierConfig struct {
	Timeout string `toml:"timeout"`
}

type ProcessConfig struct {
	GracePeriod   string `toml:"grace_period"`
	Settle        string `toml:"settle"`
	ReadyTimeout  string `toml:"ready_timeout"`
	ReadyInterval string `toml:"ready_interval"`
}

type ChannelConfig struct {
	Kind     string `toml:"kind"`
	MaxBytes int64  `toml:"max_bytes"`
	Dir      string `toml:"dir"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Barrier: BarrierConfig{Timeout: defaultBarrierTimeout},
		Process: ProcessConfig{
			GracePeriod:   defaultGracePeriod,
			ReadyTimeout:  defaultReadyTimeout,
			ReadyInterval: defaultReadyInterval,
		},
		Channel: ChannelConfig{Kind: defaultChannelKind, MaxBytes: defaultMaxBytes},
		Store:   StoreConfig{Path: defaultStorePath},
		Logging: LoggingConfig{Level: defaultLogLevel},
	}
}

// Load reads path over the defaults. An empty path tries DefaultFile and
// tolerates its absence; an explicit path must exist. Unknown keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%s: %s", path, strict.String())
		}
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every duration parses and enumerations hold known values.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct{ key, value string }{
		{"barrier.timeout", c.Barrier.Timeout},
		{"process.grace_period", c.Process.GracePeriod},
		{"process.settle", c.Process.Settle},
		{"process.ready_timeout", c.Process.ReadyTimeout},
		{"process.ready_interval", c.Process.ReadyInterval},
	} {
		if _, err := parseDuration(f.value, "0s"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.key, err))
		}
	}
	switch c.ChannelKind() {
	case "file", "pipe":
	default:
		errs = append(errs, fmt.Errorf("channel.kind: must be file or pipe, got %q", c.Channel.Kind))
	}
	if c.Channel.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("channel.max_bytes: must not be negative"))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel())); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) BarrierTimeout() time.Duration {
	return mustDuration(c.Barrier.Timeout, defaultBarrierTimeout)
}

func (c Config) GracePeriod() time.Duration {
	return mustDuration(c.Process.GracePeriod, defaultGracePeriod)
}

func (c Config) Settle() time.Duration {
	return mustDuration(c.Process.Settle, "0s")
}

func (c Config) ReadyTimeout() time.Duration {
	return mustDuration(c.Process.ReadyTimeout, defaultReadyTimeout)
}

func (c Config) ReadyInterval() time.Duration {
	return mustDuration(c.Process.ReadyInterval, defaultReadyInterval)
}

func (c Config) ChannelKind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Channel.Kind))
	if kind == "" {
		return defaultChannelKind
	}
	return kind
}

// MaxBytes bounds how much one notification channel buffers.
func (c Config) MaxBytes() int64 {
	if c.Channel.MaxBytes <= 0 {
		return defaultMaxBytes
	}
	return c.Channel.MaxBytes
}

func (c Config) StorePath() string {
	path := strings.TrimSpace(c.Store.Path)
	if path == "" {
		return defaultStorePath
	}
	return path
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return defaultLogLevel
	}
	return level
}

// SlogLevel returns LogLevel as a slog.Level, falling back to Info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel())); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseDuration(v, fallback string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		v = fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}

// mustDuration is used only after Validate, or with values that fall
// back to a valid default.
func mustDuration(v, fallback string) time.Duration {
	d, err := parseDuration(v, fallback)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
