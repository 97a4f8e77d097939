// Package config provides configuration types, defaults and validation for simput.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/tracing"
)

// Config holds all configuration options for simput.
type Config struct {
	// Models are schema files loaded into every new session.
	Models  []string        `mapstructure:"models"`
	Domains DomainsConfig   `mapstructure:"domains"`
	Log     LogConfig       `mapstructure:"log"`
	Session SessionConfig   `mapstructure:"session"`
	Tracing tracing.Config  `mapstructure:"tracing"`
	Watch   WatchConfig     `mapstructure:"watch"`
	Flags   map[string]bool `mapstructure:"flags"`
}

// DomainsConfig tunes domain evaluation.
type DomainsConfig struct {
	// MaxPasses bounds the fixed-point loop; exceeding it is a cyclic domain error.
	MaxPasses int `mapstructure:"max_passes"`
	// Skip lists domain kinds ignored when schemas are instantiated.
	Skip []string `mapstructure:"skip"`
}

// LogConfig controls the debug log file.
type LogConfig struct {
	Path  string `mapstructure:"path"`  // empty disables logging
	Level string `mapstructure:"level"` // debug, info, warn or error
}

// SessionConfig controls session lifetime in the registry.
type SessionConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// WatchConfig controls schema file watching.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// DefaultTracesFilePath returns ~/.config/simput/traces/traces.jsonl, or an
// empty string when the home directory is unknown.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "simput", "traces", "traces.jsonl")
}

// Defaults returns a Config with default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	return Config{
		Domains: DomainsConfig{
			MaxPasses: 16,
			Skip:      []string{"PropertyList", "Boolean", "UI"},
		},
		Log: LogConfig{
			Level: "info",
		},
		Session: SessionConfig{
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Tracing: tr,
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
		Flags: map[string]bool{
			"recommit-auto-commit": true,
		},
	}
}

// Validate checks c for values that cannot work.
func Validate(c Config) error {
	if c.Domains.MaxPasses < 1 {
		return fmt.Errorf("domains.max_passes must be at least 1, got %d", c.Domains.MaxPasses)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	if c.Session.CleanupInterval < 0 {
		return fmt.Errorf("session.cleanup_interval must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return ValidateTracing(c.Tracing)
}

// ValidateTracing checks tracing configuration. Empty values use defaults.
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	switch t.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}
	if t.Enabled && t.Exporter == tracing.ExporterFile && t.FilePath == "" {
		return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
	}
	return nil
}

// DefaultConfigTemplate returns the default config as commented YAML.
func DefaultConfigTemplate() string {
	return `# simput configuration

# Schema files loaded into every session
models: []

domains:
  max_passes: 16          # bound on the domain fixed-point loop
  skip: [PropertyList, Boolean, UI]

log:
  # path: simput.log      # debug log file (disabled when empty)
  level: info

session:
  idle_timeout: 30m       # sessions unused this long are closed
  cleanup_interval: 5m

watch:
  debounce: 200ms

flags:
  recommit-auto-commit: true

# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout or otlp
#   file_path: ~/.config/simput/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig writes the default template to path, creating parent
// directories.
func WriteDefaultConfig(path string) error {
	log.Debug(log.CatConfig, "writing default config", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "path", path)
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", path)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", path)
	return nil
}
