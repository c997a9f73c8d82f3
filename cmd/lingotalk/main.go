package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/lingotalk/internal/config"
	"github.com/ent0n29/lingotalk/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "lingotalk",
	Short:         "English and Japanese conversation tutor backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override APP_LOG_LEVEL")
	rootCmd.AddCommand(serveCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadRuntime reads configuration and builds the process logger.
func loadRuntime() (config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), func() {}, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, flush, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return config.Config{}, zerolog.Nop(), func() {}, fmt.Errorf("logging: %w", err)
	}
	return cfg, logger, flush, nil
}
