package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/simput/internal/tracing"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	require.Equal(t, 16, cfg.Domains.MaxPasses)
	require.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	require.True(t, cfg.Flags["recommit-auto-commit"])
	require.Equal(t, tracing.ExporterFile, cfg.Tracing.Exporter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"zero passes", func(c *Config) { c.Domains.MaxPasses = 0 }, "max_passes"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative idle", func(c *Config) { c.Session.IdleTimeout = -time.Second }, "idle_timeout"},
		{"negative cleanup", func(c *Config) { c.Session.CleanupInterval = -time.Second }, "cleanup_interval"},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }, "debounce"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "kafka" }, "exporter"},
		{"file path", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.FilePath = ""
		}, "file_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateTracing_EmptyIsValid(t *testing.T) {
	require.NoError(t, ValidateTracing(tracing.Config{}))
}

func TestDefaultConfigTemplate_Parses(t *testing.T) {
	var out map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &out))
	require.Contains(t, out, "models")
	require.Contains(t, out, "domains")
	require.Contains(t, out, "flags")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))
}

func TestDefaultTracesFilePath(t *testing.T) {
	path := DefaultTracesFilePath()
	if path == "" {
		t.Skip("no home directory")
	}
	require.Equal(t, "traces.jsonl", filepath.Base(path))
	require.Contains(t, path, filepath.Join(".config", "simput"))
}
