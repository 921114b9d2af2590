// Package config loads Coffer settings from a YAML or TOML file with
// COFFER_* environment overrides, and turns them into engine options and
// a storage backend.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/xraph/coffer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COFFER_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config is the full process configuration.
type Config struct {
	HTTP  HTTPConfig  `yaml:"http" toml:"http" envPrefix:"HTTP_"`
	Store StoreConfig `yaml:"store" toml:"store" envPrefix:"STORE_"`
	Log   LogConfig   `yaml:"log" toml:"log" envPrefix:"LOG_"`

	// SigningKey is the HMAC key for transaction signatures. Empty means an
	// ephemeral key is generated at startup.
	SigningKey string `yaml:"signing_key" toml:"signing_key" env:"SIGNING_KEY"`

	ConflictRetries     int           `yaml:"conflict_retries" toml:"conflict_retries" env:"CONFLICT_RETRIES"`
	PluginTimeout       time.Duration `yaml:"plugin_timeout" toml:"plugin_timeout" env:"PLUGIN_TIMEOUT"`
	EffectSweepInterval time.Duration `yaml:"effect_sweep_interval" toml:"effect_sweep_interval" env:"EFFECT_SWEEP_INTERVAL"`

	Plans       []Plan       `yaml:"plans" toml:"plans"`
	Effects     []Effect     `yaml:"effects" toml:"effects"`
	Instruments []Instrument `yaml:"instruments" toml:"instruments"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `yaml:"addr" toml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver" mapstructure:"driver" env:"DRIVER"`

	// DSN is a file path for sqlite, a connection string for postgres and
	// a URI for mongo.
	DSN      string `yaml:"dsn" toml:"dsn" mapstructure:"dsn" env:"DSN"`
	Database string `yaml:"database" toml:"database" mapstructure:"database" env:"DATABASE"`

	MaxConns        int32         `yaml:"max_conns" toml:"max_conns" mapstructure:"max_conns" env:"MAX_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" toml:"max_conn_lifetime" mapstructure:"max_conn_lifetime" env:"MAX_CONN_LIFETIME"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Default returns a Config that runs an in-memory engine on :8080.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:   DriverMemory,
			Database: "coffer",
		},
		Log:                 LogConfig{Level: "info", Format: "text"},
		ConflictRetries:     1,
		PluginTimeout:       5 * time.Second,
		EffectSweepInterval: time.Minute,
	}
}

// Load reads path (when non-empty) over Default and then applies
// environment overrides. The format follows the file extension.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv applies COFFER_* environment variables to target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f, filepath.Ext(path), cfg)
}

// Decode reads r into cfg. ext is a file extension such as ".yaml" or
// ".toml".
func Decode(r io.Reader, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: decode yaml: %w", coffer.ErrConfiguration, err)
		}
	case ".toml":
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return fmt.Errorf("%w: decode toml: %w", coffer.ErrConfiguration, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("%w: unknown toml key %q", coffer.ErrConfiguration, undecoded[0].String())
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", coffer.ErrConfiguration, ext)
	}
	return nil
}

// Validate checks the whole configuration, including the plan, effect and
// instrument catalogs. Every failure wraps coffer.ErrConfiguration.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMongo:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: %s driver requires a dsn", c.Store.Driver))
		}
		if c.Store.Driver == DriverMongo && c.Store.Database == "" {
			errs = append(errs, errors.New("store: mongo driver requires a database"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http: addr is required"))
	}
	if c.ConflictRetries < 0 {
		errs = append(errs, errors.New("conflict_retries must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log: unknown format %q", f))
	}
	if _, err := c.Catalogs(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", coffer.ErrConfiguration, err)
	}
	return nil
}

// Logger builds a slog.Logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log: unknown level %q", s)
	}
	return level, nil
}
