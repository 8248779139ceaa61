// Package cmd holds the debitum CLI entrypoints.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/debitum/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "debitum",
	Short: "Debitum sync server",
	Long:  `Debitum is an offline-first debt tracker. This binary runs the server side: the canonical wallet event store, the sync API and the background workers.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "path to the configuration directory")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// loadConfig loads configuration and applies the logging settings.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Logging.Format == "console" || cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return cfg, nil
}
