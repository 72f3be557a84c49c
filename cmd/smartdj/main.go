package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/smartdj/internal/config"
)

var (
	logLevelFlag string
	personaFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "smartdj",
	Short: "Smart DJ - AI-driven Spotify playback",
	Long: `Smart DJ turns free-text requests into Spotify actions.

It reads your listening history, asks a language model which action to take
(search, recommend, create a playlist, control playback, queue tracks) and
runs it against the Spotify Web API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&personaFlag, "persona", "", "DJ persona (friendly, professional, casual, energetic or a custom one)")
}

// loadConfig reads the config and configures the global logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(lc config.LoggingConfig) {
	name := lc.Level
	if logLevelFlag != "" {
		name = logLevelFlag
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
