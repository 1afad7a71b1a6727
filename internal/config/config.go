// Package config loads torunveil settings from a TOML file, a .env file and
// TORUNVEIL_ environment variables, in that order of precedence (lowest
// first). Command-line flags are applied on top by each front end.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/latebit/torunveil/internal/interact"
	"github.com/latebit/torunveil/internal/layout"
)

// APIKeyEnv is the environment variable holding the assessment API key.
const APIKeyEnv = "GEMINI_API_KEY"

// Config holds torunveil configuration.
type Config struct {
	Layout   layout.Config   `toml:"layout"`
	Interact interact.Config `toml:"interact"`
	Source   SourceConfig    `toml:"source"`
	Assess   AssessConfig    `toml:"assess"`
	Log      LogConfig       `toml:"log"`
	Web      WebConfig       `toml:"web"`
}

// SourceConfig selects where the topology comes from.
type SourceConfig struct {
	Topology string   `toml:"topology"` // file path; empty uses the built-in network
	Latency  Duration `toml:"latency"`
	Watch    bool     `toml:"watch"`
	Debounce Duration `toml:"debounce"`
}

// AssessConfig controls node assessments.
type AssessConfig struct {
	Model         string   `toml:"model"`
	Endpoint      string   `toml:"endpoint"`
	CacheDir      string   `toml:"cache_dir"`
	CacheTTL      Duration `toml:"cache_ttl"`
	RatePerMinute float64  `toml:"rate_per_minute"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Format string `toml:"format"` // "text" or "json"
	Level  string `toml:"level"`
	File   string `toml:"file"` // used by the TUI; empty discards
}

// WebConfig controls the serve command.
type WebConfig struct {
	Addr          string   `toml:"addr"`
	Rate          float64  `toml:"rate"` // requests per second per client
	Burst         int      `toml:"burst"`
	FrameInterval Duration `toml:"frame_interval"`
}

// Duration is a time.Duration written as a string ("500ms") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Layout:   layout.DefaultConfig(),
		Interact: interact.DefaultConfig(),
		Source: SourceConfig{
			Latency:  Duration{500 * time.Millisecond},
			Debounce: Duration{100 * time.Millisecond},
		},
		Assess: AssessConfig{
			Model:         "gemini-2.5-flash",
			Endpoint:      "https://generativelanguage.googleapis.com/v1beta",
			CacheTTL:      Duration{7 * 24 * time.Hour},
			RatePerMinute: 10,
		},
		Log: LogConfig{Format: "text", Level: "info"},
		Web: WebConfig{
			Addr:          "127.0.0.1:8642",
			Rate:          20,
			Burst:         40,
			FrameInterval: Duration{16 * time.Millisecond},
		},
	}
}

// Dir returns the torunveil config directory path.
func Dir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "torunveil")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config file at path (Path() when empty), loads .env from
// the working directory if present, then applies environment overrides.
// A missing file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config to path (Path() when empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// loadDotEnv reads .env without overriding variables already set.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// applyEnv overrides fields from TORUNVEIL_ variables. Unparseable values
// are ignored.
func (c *Config) applyEnv() {
	c.Source.Topology = getEnv("TORUNVEIL_TOPOLOGY", c.Source.Topology)
	c.Source.Latency.Duration = getEnvAsDuration("TORUNVEIL_LATENCY", c.Source.Latency.Duration)
	c.Source.Watch = getEnvAsBool("TORUNVEIL_WATCH", c.Source.Watch)

	c.Layout.Seed = int64(getEnvAsInt("TORUNVEIL_SEED", int(c.Layout.Seed)))

	c.Assess.Model = getEnv("TORUNVEIL_MODEL", c.Assess.Model)
	c.Assess.Endpoint = getEnv("TORUNVEIL_ENDPOINT", c.Assess.Endpoint)
	c.Assess.CacheDir = getEnv("TORUNVEIL_CACHE_DIR", c.Assess.CacheDir)

	c.Log.Format = getEnv("TORUNVEIL_LOG_FORMAT", c.Log.Format)
	c.Log.Level = getEnv("TORUNVEIL_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("TORUNVEIL_LOG_FILE", c.Log.File)

	c.Web.Addr = getEnv("TORUNVEIL_ADDR", c.Web.Addr)
	c.Web.Rate = getEnvAsFloat("TORUNVEIL_RATE", c.Web.Rate)
	c.Web.Burst = getEnvAsInt("TORUNVEIL_BURST", c.Web.Burst)
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
