// Command mcdump dumps the keys of memcached servers into data files.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pior/mcdump"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcdump",
	Short: "Dump memcached servers into data files",
	Long: `mcdump lists every key of the configured memcached servers, fetches
their values in batches and writes them to rotating data files.

Configuration is read from a YAML file and MCDUMP_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg mcdump.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
}
