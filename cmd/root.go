package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/simput/internal/config"
	"github.com/zjrosen/simput/internal/flags"
	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/session"
	"github.com/zjrosen/simput/internal/tracing"
)

var (
	version     = "dev"
	cfgFile     string
	extraModels []string
	cfg         config.Config

	provider   *tracing.Provider
	logCleanup func()
)

const localConfigPath = ".simput/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "simput",
	Short: "Schema-driven staged property store",
	Long: `simput creates typed proxies from YAML schemas, stages edits to their
properties, runs domains to fill defaults and check values, and exports the
result as a flat JSON document.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setupRuntime,
	PersistentPostRunE: teardownRuntime,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .simput/config.yaml, then ~/.config/simput/config.yaml)")
	rootCmd.PersistentFlags().StringArrayVarP(&extraModels, "model", "m", nil,
		"schema file to load (repeatable, added to the configured models)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("models", defaults.Models)
	viper.SetDefault("domains.max_passes", defaults.Domains.MaxPasses)
	viper.SetDefault("domains.skip", defaults.Domains.Skip)
	viper.SetDefault("log.path", defaults.Log.Path)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("session.idle_timeout", defaults.Session.IdleTimeout)
	viper.SetDefault("session.cleanup_interval", defaults.Session.CleanupInterval)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("flags", defaults.Flags)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	viper.SetEnvPrefix("SIMPUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .simput/config.yaml (current directory)
		// 2. ~/.config/simput/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "simput"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "simput: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setupRuntime validates the config and starts logging and tracing.
func setupRuntime(cmd *cobra.Command, _ []string) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Log.Path != "" {
		cleanup, err := log.Init(cfg.Log.Path)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logCleanup = cleanup
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	}

	p, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	provider = p

	log.Debug(log.CatCLI, "command started", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	return nil
}

func teardownRuntime(cmd *cobra.Command, _ []string) error {
	var err error
	if provider != nil {
		err = provider.Shutdown(context.Background())
		provider = nil
	}
	log.Debug(log.CatCLI, "command finished", "command", cmd.CommandPath())
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return err
}

// models returns the configured schema files followed by --model files.
func models() []string {
	out := append([]string(nil), cfg.Models...)
	return append(out, extraModels...)
}

// newRegistry builds a session registry from the loaded configuration.
func newRegistry() *session.Registry {
	sc := session.Config{
		Models:          models(),
		MaxPasses:       cfg.Domains.MaxPasses,
		Skip:            cfg.Domains.Skip,
		IdleTimeout:     cfg.Session.IdleTimeout,
		CleanupInterval: cfg.Session.CleanupInterval,
		Flags:           flags.New(cfg.Flags),
	}
	if provider != nil {
		sc.Tracer = provider.Tracer()
	}
	return session.NewRegistry(sc)
}

// openSession opens a single session for a one-shot command. The returned
// function closes it.
func openSession(ctx context.Context) (*session.Session, func(), error) {
	reg := newRegistry()
	s, err := reg.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { reg.Shutdown(ctx) }, nil
}

// configPath is the file config edits are written to.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return localConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
