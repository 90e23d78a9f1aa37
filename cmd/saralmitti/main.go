// Package main is the entry point for the saralmitti CLI.
//
// Usage:
//
//	saralmitti analyze soil.jpg             # Upload an image and wait for the result
//	saralmitti poll <job-id>                # Wait for an already uploaded job
//	saralmitti serve -c config.yaml         # Run the demo analysis backend
//	saralmitti validate -c config.yaml      # Validate configuration
//	saralmitti version                      # Show version info
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/saralmitti/config"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// newRootCmd builds the command tree. Each call returns fresh commands and
// flags.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "saralmitti",
		Short: "Soil analysis from a photo",
		Long: `saralmitti uploads soil photos for analysis and waits for the result.

Without a config file, or with an empty base_url, it runs against a built-in
mock backend, which is handy for demos.

Quick start:
  saralmitti analyze soil.jpg
  saralmitti analyze soil.jpg -c saralmitti.yaml --json

Example config:
  base_url: https://api.saralmitti.in
  credential: ${SARALMITTI_TOKEN}
  poll:
    max_attempts: 30
    initial_delay: 1s`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newVersionCmd(),
		newPollCmd(),
		newAnalyzeCmd(),
		newServeCmd(),
		newValidateCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of this saralmitti binary.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "saralmitti %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// newLogger creates a JSON logger for CLI use. Client commands stay quiet
// below warnings unless --verbose is given.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// commandLogger returns the logger for a client command.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return newLogger(cmd.ErrOrStderr(), level)
}

// loadConfig loads --config, or the defaults when no file is given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
