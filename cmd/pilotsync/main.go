package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/pilotsync/internal/config"
	"github.com/user/pilotsync/pkg/pilotapi"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "pilotsync",
	Short:         "Keep canvases in sync with remote pilot sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".pilotsync", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newClient builds the pilot API client from cfg. Reads are retried
// according to pilot.retry_attempts; zero disables retries.
func newClient(cfg *config.Config) *pilotapi.Client {
	var retry *pilotapi.RetryPolicy
	if cfg.Pilot.RetryAttempts > 0 {
		retry = pilotapi.DefaultRetryPolicy()
		retry.MaxAttempts = cfg.Pilot.RetryAttempts
	}
	return pilotapi.New(&pilotapi.Config{
		BaseURL: cfg.Pilot.BaseURL,
		APIKey:  cfg.Pilot.APIKey,
		Timeout: cfg.Timeout(),
		Retry:   retry,
	})
}
