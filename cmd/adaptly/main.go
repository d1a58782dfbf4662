// Package main provides the adaptly command line: the API server plus
// configuration and catalog maintenance commands.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/adaptly/internal/config"
)

var Version = "dev"

var (
	configPath string
	gatesPath  string
)

var rootCmd = &cobra.Command{
	Use:           "adaptly",
	Short:         "Personalization and feature gating engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the engagement scheduler",
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check settings and gate definitions without starting anything",
	RunE:  runValidate,
}

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load catalog items and user profiles from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Settings file (default $ADAPTLY_DATA_DIR/settings.json)")
	rootCmd.PersistentFlags().StringVar(&gatesPath, "gates", "", "Gate definitions file, overrides the configured path")
	rootCmd.AddCommand(serveCmd, validateCmd, seedCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads settings from the --config path, or the default settings
// file which is created on first use.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if err := config.EnsureAll(); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
		path = config.SettingsPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if gatesPath != "" {
		cfg.GatesPath = gatesPath
	}
	return cfg, nil
}

// setupLogging configures the global logger from the settings.
func setupLogging(level, format string, out io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)
	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	}
	return nil
}
