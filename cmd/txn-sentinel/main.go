package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/raaihank/txn-sentinel/internal/config"
	"github.com/raaihank/txn-sentinel/internal/logger"
	"github.com/raaihank/txn-sentinel/internal/server"
)

var (
	// Version info injected via ldflags at build time
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "txn-sentinel",
	Short: "PII detection and anonymization for Spanish banking transactions",
	Long: `txn-sentinel detects and replaces personal data in transaction text.

Detection runs in tiers: pattern matching with checksum validation, an
optional statistical recognizer and an optional LLM adjudicator. Each tier
runs only while the aggregate confidence stays below its threshold.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "txn-sentinel %s (commit: %s, built: %s)\n", resolvedVersion(), commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

// resolvedVersion returns version unless it is "dev" and the build info
// carries a real module version.
func resolvedVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

// loadConfig loads configuration and builds the logger every command uses.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func main() {
	server.Version = resolvedVersion()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
