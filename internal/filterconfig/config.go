// Package filterconfig implements component G: resolving configuration
// from a JSON file plus the TAIST_* environment variables (spec.md §6),
// and the glob/substring filters built from it.
//
// Resolution order follows internal/config.LoadConfig's sequencing in
// the teacher: start from the defaults, then load the file (a missing or
// malformed file is a ConfigError that fails Load), then let environment
// variables override, then validate.
package filterconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/taist-dev/taist/internal/apperr"
)

// Config is the fully resolved configuration for every component that
// needs it: the wrapper's depth cap, the reporter/collector's socket
// path, the filter's globs, and the formatter's render settings.
type Config struct {
	Enabled        bool          `json:"enabled"`
	Include        []string      `json:"include"`
	Exclude        []string      `json:"exclude"`
	ExcludeNames   []string      `json:"excludeNames"`
	Depth          int           `json:"depth"`
	Format         string        `json:"format"`
	OutputFile     string        `json:"outputFile"`
	OutputInterval time.Duration `json:"-"`
	SlowThreshold  time.Duration `json:"-"`
	SocketPath     string        `json:"-"`
	MaxClients     int           `json:"maxClients"`
	BufferSize     int           `json:"bufferSize"`

	OutputIntervalMS int64 `json:"outputInterval"`
	SlowThresholdMS  int64 `json:"slowOpThreshold"`
}

// Default returns the built-in defaults, applied before any file or
// environment override is considered.
func Default() *Config {
	return &Config{
		Enabled:        true,
		Depth:          50,
		Format:         "toon",
		OutputInterval: 0,
		SlowThreshold:  200 * time.Millisecond,
		SocketPath:     defaultSocketPath(),
		MaxClients:     256,
		BufferSize:     10000,
	}
}

func defaultSocketPath() string {
	return fmt.Sprintf("/tmp/taist-collector-%d.sock", os.Getpid())
}

// Load resolves configuration from configFile (may be empty) and the
// process environment, then validates the result.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			return nil, apperr.New(apperr.KindConfig, "filterconfig", "Load", err)
		}
	}

	cfg.syncDurations()
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, apperr.New(apperr.KindConfig, "filterconfig", "Load", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// syncDurations derives the time.Duration fields from the
// millisecond-denominated JSON fields they're sourced from.
func (c *Config) syncDurations() {
	if c.OutputIntervalMS > 0 {
		c.OutputInterval = time.Duration(c.OutputIntervalMS) * time.Millisecond
	}
	if c.SlowThresholdMS > 0 {
		c.SlowThreshold = time.Duration(c.SlowThresholdMS) * time.Millisecond
	}
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("TAIST_ENABLED"); ok {
		cfg.Enabled = parseBool(v, cfg.Enabled)
	}
	if v, ok := os.LookupEnv("TAIST_DEPTH"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Depth = n
		}
	}
	if v, ok := os.LookupEnv("TAIST_FORMAT"); ok && v != "" {
		cfg.Format = v
	}
	if v, ok := os.LookupEnv("TAIST_OUTPUT_FILE"); ok {
		cfg.OutputFile = v
	}
	if v, ok := os.LookupEnv("TAIST_OUTPUT_INTERVAL"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.OutputInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv("TAIST_INCLUDE"); ok {
		cfg.Include = splitCSV(v)
	}
	if v, ok := os.LookupEnv("TAIST_EXCLUDE"); ok {
		cfg.Exclude = splitCSV(v)
	}
	if v, ok := os.LookupEnv("TAIST_SLOW_THRESHOLD"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.SlowThreshold = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv("TAIST_COLLECTOR_SOCKET"); ok && v != "" {
		cfg.SocketPath = v
	}
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks for the ConfigError conditions spec.md §7 names:
// malformed globs and an invalid format tag. Fails fast rather than
// letting a bad config reach a running component.
func Validate(cfg *Config) error {
	for _, pattern := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if _, err := CompileGlob(pattern); err != nil {
			return fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
	}
	switch cfg.Format {
	case "toon", "json", "compact":
	default:
		return fmt.Errorf("invalid output format %q", cfg.Format)
	}
	if cfg.Depth <= 0 {
		return fmt.Errorf("depth must be positive, got %d", cfg.Depth)
	}
	if cfg.MaxClients <= 0 {
		return fmt.Errorf("maxClients must be positive, got %d", cfg.MaxClients)
	}
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("bufferSize must be positive, got %d", cfg.BufferSize)
	}
	return nil
}
