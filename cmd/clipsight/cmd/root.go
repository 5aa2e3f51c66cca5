// Package cmd implements the CLI commands for clipsight.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/clipsight/clipsight/internal/config"
	"github.com/clipsight/clipsight/internal/observability"
	"github.com/clipsight/clipsight/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "clipsight",
	Short:   "Video analysis worker and submitter API",
	Version: version.Version,
	Long: `clipsight analyses submitted videos through a staged pipeline:
frame sampling, vision analysis, transcription, scene detection,
classification, and summarisation, backed by a Redis job queue and an
external model service.

The worker subcommand runs the job consumer; serve runs the submitter
HTTP API.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./config.yaml, /etc/clipsight/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")
}

// loadConfig loads configuration and builds the redacting logger. CLI
// flags override env and file values only when explicitly set, so the
// usual precedence (flag > env > file > default) holds.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	flags := rootCmd.PersistentFlags()
	if v := changedFlag(flags, "log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := changedFlag(flags, "log-format"); v != "" {
		cfg.Logging.Format = v
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	return cfg, logger, nil
}

// changedFlag returns the flag value only when the user set it.
func changedFlag(flags *pflag.FlagSet, name string) string {
	if !flags.Changed(name) {
		return ""
	}
	v, _ := flags.GetString(name)
	return v
}
