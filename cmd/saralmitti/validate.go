package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/saralmitti"
	"github.com/jpalmerr/saralmitti/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Long: `Validate a saralmitti configuration file without polling or serving.

This command parses the YAML, expands environment variables, validates all
fields and prints the resulting poll schedule. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  saralmitti validate -c config.yaml
  saralmitti validate --config /etc/saralmitti/config.yaml`,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return fmt.Errorf("required flag \"config\" not set")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// building the poller applies the same checks PollResult relies on
	rp, err := config.BuildPoller(cfg, commandLogger(cmd))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	rp.Close()

	b := cfg.Poll.Backoff
	policy := saralmitti.BackoffPolicy{
		Threshold: b.Threshold.Duration(),
		Factor:    b.Factor,
		MaxDelay:  b.MaxDelay.Duration(),
	}
	var worst time.Duration
	for _, d := range policy.Schedule(cfg.Poll.MaxAttempts, cfg.Poll.InitialDelay.Duration()) {
		worst += d
	}

	mode := "live (" + cfg.BaseURL + ")"
	if rp.Mock() {
		mode = "mock"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Mode:            %s\n", mode)
	fmt.Fprintf(out, "  Poll:            %d attempts, initial delay %s, %d concurrent jobs\n",
		cfg.Poll.MaxAttempts, cfg.Poll.InitialDelay.Duration(), cfg.Poll.MaxConcurrency)
	fmt.Fprintf(out, "  Backoff:         x%g after %s, capped at %s\n",
		b.Factor, b.Threshold.Duration(), b.MaxDelay.Duration())
	fmt.Fprintf(out, "  Worst-case wait: %s\n", worst)
	fmt.Fprintf(out, "  Server:          port %d, %s store, processing %s\n",
		cfg.Server.Port, cfg.Server.Store, cfg.Server.ProcessingTime.Duration())

	return nil
}
