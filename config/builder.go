package config

import (
	"log/slog"

	"github.com/jpalmerr/saralmitti"
)

// PollerOptions converts parsed configuration into poller options.
func PollerOptions(cfg *Config) []saralmitti.Option {
	opts := []saralmitti.Option{
		saralmitti.WithBaseURL(cfg.BaseURL),
		saralmitti.WithRequestTimeout(cfg.RequestTimeout.Duration()),
		saralmitti.WithMaxAttempts(cfg.Poll.MaxAttempts),
		saralmitti.WithInitialDelay(cfg.Poll.InitialDelay.Duration()),
		saralmitti.WithMaxConcurrency(cfg.Poll.MaxConcurrency),
		saralmitti.WithBackoff(saralmitti.BackoffPolicy{
			Threshold: cfg.Poll.Backoff.Threshold.Duration(),
			Factor:    cfg.Poll.Backoff.Factor,
			MaxDelay:  cfg.Poll.Backoff.MaxDelay.Duration(),
		}),
	}

	if cfg.Mock {
		opts = append(opts, saralmitti.WithMockMode())
	}
	if cfg.Credential != "" {
		opts = append(opts, saralmitti.WithToken(cfg.Credential))
	}
	return opts
}

// BuildPoller creates a ResultPoller from cfg. extra options are applied
// last and override the file.
func BuildPoller(cfg *Config, logger *slog.Logger, extra ...saralmitti.Option) (*saralmitti.ResultPoller, error) {
	opts := PollerOptions(cfg)
	if logger != nil {
		opts = append(opts, saralmitti.WithLogger(logger))
	}
	opts = append(opts, extra...)
	return saralmitti.New(opts...)
}
