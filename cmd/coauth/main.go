// Package main provides the coauth CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/logging"
	"github.com/matsen/coauthor/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

// Global flags
var (
	humanOutput bool   // human-readable output instead of JSON
	configPath  string // experiment configuration file
	logLevel    string // overrides log.level from the config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coauth",
	Short: "Co-authorship link prediction from hypergraph node embeddings",
	Long: `coauth predicts whether a set of authors has co-authored a paper.

For each embedding setting of a sweep it loads precomputed node embeddings,
encodes author sets into feature vectors, and trains (or loads) a small
feed-forward classifier. The threshold command instead scores author sets by
mean pairwise cosine similarity and searches the best decision threshold.

Configuration is read from a YAML file (--config or COAUTH_CONFIG) and a .env
file in the working directory. All commands output JSON by default.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Ignore error - .env file is optional
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Experiment configuration file (default $COAUTH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config or $COAUTH_LOG_LEVEL)")
	rootCmd.Version = Version
}

// resolveConfigPath returns the --config flag, falling back to COAUTH_CONFIG.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("COAUTH_CONFIG")
}

// mustLoadConfig loads and validates the configuration, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		exitWithError(configLoadExitCode(err), "loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg
}

// configLoadExitCode maps a config.Load error: a missing file is not found,
// anything else a configuration error.
func configLoadExitCode(err error) int {
	if errors.Is(err, config.ErrNotFound) {
		return ExitNotFound
	}
	return ExitConfigError
}

// mustNewLogger builds the logger from config and overrides, exits on error.
func mustNewLogger(cfg *config.Config) *zap.Logger {
	level := cfg.Log.Level
	if env := os.Getenv("COAUTH_LOG_LEVEL"); env != "" {
		level = env
	}
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		exitWithError(ExitConfigError, "creating logger: %v", err)
	}
	return logger
}

// mustOpenDatabase opens the run history database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(cfg *config.Config) *storage.DB {
	db, err := storage.OpenDB(cfg.RunsDBPath())
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// mustFindSetting resolves a setting name against the configured grid.
func mustFindSetting(cfg *config.Config, name string) config.Setting {
	s, err := cfg.FindSetting(name)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return s
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
