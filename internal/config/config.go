// Package config handles configuration loading from command-line flags,
// environment variables, and TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/zot/repertoire/internal/alloc"
	"github.com/zot/repertoire/internal/glyph"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "repertoire.toml"

// Config holds all configuration settings for the repertoire.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Allocator AllocatorConfig `toml:"allocator"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// StorageConfig holds storage-related settings.
type StorageConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "postgresql"
	Path string `toml:"path"` // SQLite file path
	URL  string `toml:"url"`  // PostgreSQL connection URL
}

// AllocatorConfig holds the code ranges new entries are allocated from.
type AllocatorConfig struct {
	Component CodeRange `toml:"component"`
	Compound  CodeRange `toml:"compound"`
}

// Ranges returns the ranges keyed by allocation kind.
func (a AllocatorConfig) Ranges() map[alloc.Kind]alloc.Range {
	return map[alloc.Kind]alloc.Range{
		alloc.Component: alloc.Range(a.Component),
		alloc.Compound:  alloc.Range(a.Compound),
	}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level       string `toml:"level"`       // "debug", "info", "warn", "error"
	Development bool   `toml:"development"` // console encoder instead of JSON
}

// CodeRange is a half-open code range written "U+E000:U+E800". Either end
// accepts any spelling glyph.ParseCode does.
type CodeRange alloc.Range

// UnmarshalText implements encoding.TextUnmarshaler for CodeRange.
func (r *CodeRange) UnmarshalText(text []byte) error {
	floor, ceiling, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("range %q must be written floor:ceiling", text)
	}
	f, err := glyph.ParseCode(floor)
	if err != nil {
		return fmt.Errorf("range floor: %w", err)
	}
	c, err := glyph.ParseCode(ceiling)
	if err != nil {
		return fmt.Errorf("range ceiling: %w", err)
	}
	*r = CodeRange{Floor: f, Ceiling: c}
	return nil
}

// MarshalText implements encoding.TextMarshaler for CodeRange.
func (r CodeRange) MarshalText() ([]byte, error) {
	return []byte(glyph.FormatCode(r.Floor) + ":" + glyph.FormatCode(r.Ceiling)), nil
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	ranges := alloc.DefaultRanges()
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Type: "sqlite",
			Path: "repertoire.db",
		},
		Allocator: AllocatorConfig{
			Component: CodeRange(ranges[alloc.Component]),
			Compound:  CodeRange(ranges[alloc.Compound]),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// AddFlags registers the configuration flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", DefaultPath, "configuration file")
	fs.String("host", "", "HTTP listen address")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("storage", "", "storage type: memory, sqlite, postgresql")
	fs.String("storage-path", "", "SQLite database path")
	fs.String("storage-url", "", "PostgreSQL connection URL")
	fs.String("component-range", "", "component allocation range, e.g. U+E000:U+E800")
	fs.String("compound-range", "", "compound allocation range, e.g. U+E800:U+F000")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Bool("dev", false, "human-readable development logging")
}

// Load builds a Config from defaults, the TOML file, REPERTOIRE_* environment
// variables and the flags registered by AddFlags, in increasing priority. fs
// must already be parsed; a nil fs skips flags. The result is validated.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	path := DefaultPath
	if fs != nil {
		if p, err := fs.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	if err := cfg.loadTOML(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys %v", undecoded)
	}
	return nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() error {
	if v := os.Getenv("REPERTOIRE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("REPERTOIRE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REPERTOIRE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("REPERTOIRE_STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("REPERTOIRE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("REPERTOIRE_STORAGE_URL"); v != "" {
		c.Storage.URL = v
	}
	if v := os.Getenv("REPERTOIRE_COMPONENT_RANGE"); v != "" {
		if err := c.Allocator.Component.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("REPERTOIRE_COMPONENT_RANGE: %w", err)
		}
	}
	if v := os.Getenv("REPERTOIRE_COMPOUND_RANGE"); v != "" {
		if err := c.Allocator.Compound.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("REPERTOIRE_COMPOUND_RANGE: %w", err)
		}
	}
	if v := os.Getenv("REPERTOIRE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REPERTOIRE_LOG_DEV"); v != "" {
		c.Logging.Development = v == "true" || v == "1"
	}
	return nil
}

// applyFlags applies the flags that were set on the command line.
func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	str("host", &c.Server.Host)
	str("storage", &c.Storage.Type)
	str("storage-path", &c.Storage.Path)
	str("storage-url", &c.Storage.URL)
	str("log-level", &c.Logging.Level)
	if err == nil && fs.Changed("port") {
		c.Server.Port, err = fs.GetInt("port")
	}
	if err == nil && fs.Changed("dev") {
		c.Logging.Development, err = fs.GetBool("dev")
	}
	if err != nil {
		return err
	}

	for name, dst := range map[string]*CodeRange{
		"component-range": &c.Allocator.Component,
		"compound-range":  &c.Allocator.Compound,
	} {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the storage settings, the allocator ranges and the log
// level.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage: sqlite requires a path")
		}
	case "postgres", "postgresql":
		if c.Storage.URL == "" {
			return errors.New("storage: postgresql requires a url")
		}
	default:
		return fmt.Errorf("storage: unknown type %q", c.Storage.Type)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	if _, err := alloc.New(c.Allocator.Ranges()); err != nil {
		return fmt.Errorf("allocator: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// NewAllocator builds the allocator for the configured ranges.
func (c *Config) NewAllocator() (*alloc.Allocator, error) {
	return alloc.New(c.Allocator.Ranges())
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
