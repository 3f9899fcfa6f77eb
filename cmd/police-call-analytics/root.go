package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"police_call_analytics/internal/app"
	"police_call_analytics/internal/config"
	"police_call_analytics/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "police-call-analytics",
	Short: "Entity extraction and incident classification for police call recordings",
	Long: "police-call-analytics transcribes police call recordings, extracts locations,\n" +
		"times, suspects, weapons and organizations, and classifies each call into an\n" +
		"editable incident taxonomy.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "config file (default $CONFIG_PATH or config/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if rootFlags.configPath != "" {
		cfg, err = config.LoadFile(rootFlags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}

// openApp loads configuration and builds the application. Callers Close it.
func openApp() (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return a, nil
}
