// Package cmd implements the CLI commands for tvstream.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/tvstream/internal/config"
	"github.com/jmylchreest/tvstream/internal/observability"
	"github.com/jmylchreest/tvstream/internal/version"
)

var (
	// cfgFile holds the config file path from the CLI flag.
	cfgFile string
	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "tvstream",
	Short:   "Live streaming server and headless player",
	Version: version.Version,
	Long: `tvstream streams live channels over a websocket as fragmented MP4 and
plays them back with a buffer-aware client.

The server generates synthetic channels, adapts quality per client and
records client playback telemetry. The headless player runs the full
client session (init handshake, resumption, acknowledgements, rebuffer
detection, reconnect with backoff) against any compatible server.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid an initialization cycle.
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfigAndLogging()
	}

	// Logging flags are not bound to viper: a flag only overrides the
	// config file and environment when it was explicitly set.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml, /etc/tvstream, $HOME/.config/tvstream)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

func initConfigAndLogging() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	applyChanged(rootCmd.PersistentFlags(), map[string]func(*pflag.Flag){
		"log-level":  func(f *pflag.Flag) { cfg.Logging.Level = strings.ToLower(f.Value.String()) },
		"log-format": func(f *pflag.Flag) { cfg.Logging.Format = strings.ToLower(f.Value.String()) },
	})
	logger := observability.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger.With(slog.String("app", version.ApplicationName)))
	return nil
}

// applyChanged runs the handler for every flag the user set explicitly, so
// flag defaults never override the config file or environment.
func applyChanged(flags *pflag.FlagSet, handlers map[string]func(*pflag.Flag)) {
	flags.Visit(func(f *pflag.Flag) {
		if h, ok := handlers[f.Name]; ok {
			h(f)
		}
	})
}

func flagBool(f *pflag.Flag) bool {
	v, _ := strconv.ParseBool(f.Value.String())
	return v
}
