package saralmitti

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// TokenSource returns the bearer credential to attach to backend requests.
// An empty token means requests are sent without an Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// pollerConfig holds mutable state during ResultPoller construction.
type pollerConfig struct {
	backend          Backend
	baseURL          string
	mock             bool
	requestTimeout   time.Duration
	token            string
	tokenSource      TokenSource
	maxAttempts      int
	initialDelay     time.Duration
	backoff          BackoffPolicy
	maxConcurrency   int
	logger           *slog.Logger
	attemptCallbacks []func(PollAttempt)
}

// Option is a function that configures a [ResultPoller] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails, and [New] returns the first such error.
type Option func(*pollerConfig) error

// WithBaseURL sets the root URL of the analysis backend, for example
// "https://api.saralmitti.in".
//
// An empty URL, or one pointing at example.com, selects mock mode the same
// way [WithMockMode] does.
//
// Returns an error if a non-empty URL is not an absolute http or https URL.
func WithBaseURL(baseURL string) Option {
	return func(cfg *pollerConfig) error {
		if baseURL != "" {
			u, err := url.Parse(baseURL)
			if err != nil {
				return fmt.Errorf("invalid base url: %w", err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("base url scheme must be http or https, got %q", u.Scheme)
			}
			if u.Host == "" {
				return errors.New("base url must include a host")
			}
		}
		cfg.baseURL = baseURL
		return nil
	}
}

// WithMockMode makes the poller answer from a [MockBackend] instead of a
// real service. Useful for demos and UI development.
func WithMockMode() Option {
	return func(cfg *pollerConfig) error {
		cfg.mock = true
		return nil
	}
}

// WithBackend replaces the backend entirely. It takes precedence over
// [WithBaseURL] and [WithMockMode].
//
// Returns an error if b is nil.
func WithBackend(b Backend) Option {
	return func(cfg *pollerConfig) error {
		if b == nil {
			return errors.New("backend cannot be nil")
		}
		cfg.backend = b
		return nil
	}
}

// WithRequestTimeout bounds each individual HTTP request made to the backend.
// Defaults to 10 seconds. A request that times out counts as a transient
// fault and is retried.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithToken sets a static bearer credential for all requests.
func WithToken(token string) Option {
	return func(cfg *pollerConfig) error {
		cfg.token = token
		return nil
	}
}

// WithTokenSource sets a function consulted for the credential on every
// poll sequence and upload. It takes precedence over [WithToken].
//
// Nil sources are silently ignored.
func WithTokenSource(src TokenSource) Option {
	return func(cfg *pollerConfig) error {
		if src == nil {
			return nil
		}
		cfg.tokenSource = src
		return nil
	}
}

// WithMaxAttempts sets the default number of status queries per job.
// Defaults to 30. Can be overridden per call with [WithAttempts].
//
// Returns an error if n is zero or negative.
func WithMaxAttempts(n int) Option {
	return func(cfg *pollerConfig) error {
		if n <= 0 {
			return errors.New("max attempts must be positive")
		}
		cfg.maxAttempts = n
		return nil
	}
}

// WithInitialDelay sets the default delay before the second status query.
// Defaults to 1 second. Can be overridden per call with [WithDelay].
//
// Returns an error if the duration is zero or negative. [New] additionally
// rejects a delay above the backoff policy's MaxDelay.
func WithInitialDelay(d time.Duration) Option {
	return func(cfg *pollerConfig) error {
		if d <= 0 {
			return errors.New("initial delay must be positive")
		}
		cfg.initialDelay = d
		return nil
	}
}

// WithBackoff replaces [DefaultBackoff].
//
// Returns an error if the policy is invalid.
func WithBackoff(b BackoffPolicy) Option {
	return func(cfg *pollerConfig) error {
		if err := b.Validate(); err != nil {
			return err
		}
		cfg.backoff = b
		return nil
	}
}

// WithMaxConcurrency sets how many jobs [ResultPoller.PollAll] polls at
// once. Defaults to 4.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *pollerConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pollerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithAttemptCallback registers a function called after every status query
// with a [PollAttempt] describing it. Use it to drive progress indicators.
//
// Callbacks run synchronously on the polling goroutine and must not block.
// Panics are recovered and logged. Multiple callbacks run in registration
// order. Nil callbacks are silently ignored.
func WithAttemptCallback(cb func(PollAttempt)) Option {
	return func(cfg *pollerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.attemptCallbacks = append(cfg.attemptCallbacks, cb)
		return nil
	}
}

// pollSettings are the per-call parameters of one poll sequence.
type pollSettings struct {
	credential    string
	hasCredential bool
	maxAttempts   int
	initialDelay  time.Duration
}

// PollOption adjusts a single [ResultPoller.PollResult] call.
type PollOption func(*pollSettings) error

// WithCredential sets the bearer credential for this call only, overriding
// [WithToken] and [WithTokenSource].
func WithCredential(token string) PollOption {
	return func(s *pollSettings) error {
		s.credential = token
		s.hasCredential = true
		return nil
	}
}

// WithAttempts overrides the maximum number of status queries for this call.
//
// Returns an error if n is zero or negative.
func WithAttempts(n int) PollOption {
	return func(s *pollSettings) error {
		if n <= 0 {
			return errors.New("max attempts must be positive")
		}
		s.maxAttempts = n
		return nil
	}
}

// WithDelay overrides the initial delay for this call.
//
// Returns an error if the duration is zero or negative.
func WithDelay(d time.Duration) PollOption {
	return func(s *pollSettings) error {
		if d <= 0 {
			return errors.New("initial delay must be positive")
		}
		s.initialDelay = d
		return nil
	}
}
