package saralmitti

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jpalmerr/saralmitti/internal/poller"
)

const (
	defaultMaxAttempts    = 30
	defaultInitialDelay   = 1 * time.Second
	defaultMaxConcurrency = 4
	defaultRequestTimeout = 10 * time.Second
)

// ResultPoller resolves analysis job ids to final results.
//
// A ResultPoller holds no per-job state: every [ResultPoller.PollResult] call
// runs its own poll sequence with its own attempt counter and delay, so one
// poller may serve any number of concurrent calls.
//
// The typical lifecycle is:
//
//	rp, err := saralmitti.New(saralmitti.WithBaseURL("https://api.saralmitti.in"))
//	if err != nil {
//	    return err
//	}
//	defer rp.Close()
//
//	jobID, err := rp.Upload(ctx, saralmitti.UploadRequest{Image: f, Filename: "soil.jpg"})
//	...
//	result, err := rp.PollResult(ctx, jobID)
type ResultPoller struct {
	backend          Backend
	mock             *MockBackend
	client           *poller.Client
	token            string
	tokenSource      TokenSource
	maxAttempts      int
	initialDelay     time.Duration
	backoff          BackoffPolicy
	maxConcurrency   int
	logger           *slog.Logger
	attemptCallbacks []func(PollAttempt)

	// sleep and now are replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a [ResultPoller] with the given options.
//
// Defaults:
//   - Max attempts: 30
//   - Initial delay: 1 second
//   - Backoff: [DefaultBackoff]
//   - Max concurrency (batch polling): 4
//   - Request timeout: 10 seconds
//
// Without [WithBackend], the poller talks HTTP to [WithBaseURL], or runs in
// mock mode when the base URL is empty, points at example.com, or
// [WithMockMode] is given.
//
// Returns an error if any option is invalid or the initial delay exceeds the
// backoff cap.
func New(opts ...Option) (*ResultPoller, error) {
	cfg := &pollerConfig{
		maxAttempts:    defaultMaxAttempts,
		initialDelay:   defaultInitialDelay,
		backoff:        DefaultBackoff,
		maxConcurrency: defaultMaxConcurrency,
		requestTimeout: defaultRequestTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.initialDelay > cfg.backoff.MaxDelay {
		return nil, fmt.Errorf("initial delay %s exceeds max delay %s", cfg.initialDelay, cfg.backoff.MaxDelay)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	rp := &ResultPoller{
		token:            cfg.token,
		tokenSource:      cfg.tokenSource,
		maxAttempts:      cfg.maxAttempts,
		initialDelay:     cfg.initialDelay,
		backoff:          cfg.backoff,
		maxConcurrency:   cfg.maxConcurrency,
		logger:           logger,
		attemptCallbacks: cfg.attemptCallbacks,
		sleep:            sleepContext,
		now:              time.Now,
	}

	// mock ids always resolve locally, whatever the primary backend is
	rp.mock = NewMockBackend()

	switch {
	case cfg.backend != nil:
		rp.backend = cfg.backend
	case cfg.mock || IsMockURL(cfg.baseURL):
		rp.backend = rp.mock
		logger.Info("result poller running in mock mode")
	default:
		rp.client = poller.NewClient()
		rp.backend = newHTTPBackend(cfg.baseURL, rp.client, cfg.requestTimeout)
	}

	return rp, nil
}

// Close releases idle HTTP connections. Safe to call multiple times.
func (p *ResultPoller) Close() {
	p.client.Close()
}

// Mock reports whether the primary backend is the built-in mock.
func (p *ResultPoller) Mock() bool {
	return p.backend == Backend(p.mock)
}

// MaxAttempts returns the default attempt budget per job.
func (p *ResultPoller) MaxAttempts() int {
	return p.maxAttempts
}

// InitialDelay returns the default delay before the second query.
func (p *ResultPoller) InitialDelay() time.Duration {
	return p.initialDelay
}

// pollState is the lifecycle of one poll sequence.
type pollState int

const (
	stateIdle pollState = iota
	statePolling
	stateCompleted
	stateFailed
	stateTimedOut
	stateCancelled
)

func (s pollState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePolling:
		return "polling"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	case stateTimedOut:
		return "timed_out"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PollResult queries the job's status until it is terminal or the attempt
// budget is spent.
//
// Returns the result when the backend reports completed. Otherwise the error
// matches exactly one of [ErrJobFailed], [ErrTimeout] or [ErrTransient] via
// errors.Is, or is the context's error when ctx ends first.
//
// Each processing response is followed by a sleep of the current delay. The
// delay starts at the initial delay and grows per the backoff policy once
// attempts times delay exceeds its threshold. Transient faults are retried
// after the unchanged delay. No query is made after a terminal status and
// no sleep follows the last allowed query.
func (p *ResultPoller) PollResult(ctx context.Context, jobID string, opts ...PollOption) (*AnalysisResult, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrInvalidJobID
	}

	settings := pollSettings{
		maxAttempts:  p.maxAttempts,
		initialDelay: p.initialDelay,
	}
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}
	if settings.initialDelay > p.backoff.MaxDelay {
		return nil, fmt.Errorf("initial delay %s exceeds max delay %s", settings.initialDelay, p.backoff.MaxDelay)
	}

	credential := settings.credential
	if !settings.hasCredential {
		var err error
		credential, err = p.resolveCredential(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	seq := &sequence{
		poller:      p,
		backend:     p.backendFor(jobID),
		jobID:       jobID,
		credential:  credential,
		maxAttempts: settings.maxAttempts,
		delay:       settings.initialDelay,
		logger:      p.logger.With("job_id", jobID),
	}
	return seq.run(ctx)
}

// backendFor routes mock ids to the mock backend.
func (p *ResultPoller) backendFor(jobID string) Backend {
	if IsMockID(jobID) {
		return p.mock
	}
	return p.backend
}

// resolveCredential returns override when set, then the token source, then
// the static token.
func (p *ResultPoller) resolveCredential(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if p.tokenSource != nil {
		tok, err := p.tokenSource(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to obtain credential: %w", err)
		}
		return tok, nil
	}
	return p.token, nil
}

// sequence is one poll sequence. It is owned by a single goroutine.
type sequence struct {
	poller      *ResultPoller
	backend     Backend
	jobID       string
	credential  string
	maxAttempts int
	delay       time.Duration
	attempts    int
	state       pollState
	logger      *slog.Logger
}

func (s *sequence) transition(to pollState) {
	s.logger.Debug("poll state change", "from", s.state.String(), "to", to.String(), "attempts", s.attempts)
	s.state = to
}

func (s *sequence) run(ctx context.Context) (*AnalysisResult, error) {
	s.transition(statePolling)

	for {
		s.attempts++
		if s.attempts > s.maxAttempts {
			return nil, s.timeout()
		}

		if err := ctx.Err(); err != nil {
			return nil, s.cancelled(err)
		}

		start := s.poller.now()
		resp, err := s.backend.Status(ctx, s.jobID, s.credential)
		latency := s.poller.now().Sub(start)

		// a query aborted by the caller is cancellation, not a backend fault
		if err != nil && ctx.Err() != nil {
			return nil, s.cancelled(ctx.Err())
		}

		if err == nil && resp == nil {
			err = fmt.Errorf("%w: empty response", ErrUnexpectedStatus)
		}

		status := JobStatusUnknown
		if err == nil {
			status = resp.JobStatus()
			if status == JobStatusUnknown {
				err = fmt.Errorf("%w %q", ErrUnexpectedStatus, resp.Status)
			}
		}

		attempt := PollAttempt{
			JobID:       s.jobID,
			Number:      s.attempts,
			MaxAttempts: s.maxAttempts,
			Latency:     latency,
			CheckedAt:   start,
		}

		switch {
		case err != nil:
			attempt.Outcome = OutcomeTransient
			attempt.Err = err
			if s.attempts >= s.maxAttempts {
				s.poller.emit(attempt)
				s.transition(stateFailed)
				s.logger.Error("status query failed, attempts exhausted",
					"attempts", s.attempts,
					"error", err.Error(),
				)
				return nil, &TransientError{JobID: s.jobID, Attempts: s.attempts, Err: err}
			}
			attempt.Delay = s.delay
			s.poller.emit(attempt)
			s.logger.Warn("status query failed, retrying",
				"attempt", s.attempts,
				"delay", s.delay.String(),
				"error", err.Error(),
			)
			if err := s.poller.sleep(ctx, s.delay); err != nil {
				return nil, s.cancelled(err)
			}

		case status == JobStatusProcessing:
			attempt.Outcome = OutcomeProcessing
			if s.attempts >= s.maxAttempts {
				s.poller.emit(attempt)
				return nil, s.timeout()
			}
			attempt.Delay = s.delay
			s.poller.emit(attempt)
			s.logger.Debug("analysis processing",
				"attempt", s.attempts,
				"delay", s.delay.String(),
			)
			if err := s.poller.sleep(ctx, s.delay); err != nil {
				return nil, s.cancelled(err)
			}
			s.delay = s.poller.backoff.Next(s.attempts, s.delay)

		case status == JobStatusCompleted:
			attempt.Outcome = OutcomeCompleted
			s.poller.emit(attempt)
			s.transition(stateCompleted)
			s.logger.Info("analysis completed", "attempts", s.attempts)
			return resp.Result(s.jobID), nil

		default: // failed
			msg := resp.Message
			if msg == "" {
				msg = defaultFailureMessage
			}
			jobErr := &JobFailedError{JobID: s.jobID, Message: msg}
			attempt.Outcome = OutcomeFailed
			attempt.Err = jobErr
			s.poller.emit(attempt)
			s.transition(stateFailed)
			s.logger.Info("analysis failed", "attempts", s.attempts, "message", msg)
			return nil, jobErr
		}
	}
}

func (s *sequence) timeout() error {
	attempts := s.attempts
	if attempts > s.maxAttempts {
		attempts = s.maxAttempts
	}
	s.transition(stateTimedOut)
	s.logger.Warn("analysis timed out", "attempts", attempts)
	return &TimeoutError{JobID: s.jobID, Attempts: attempts}
}

func (s *sequence) cancelled(err error) error {
	s.transition(stateCancelled)
	return err
}

// emit delivers an attempt to the registered callbacks.
func (p *ResultPoller) emit(a PollAttempt) {
	for _, cb := range p.attemptCallbacks {
		invokeCallbackSafe(cb, a, p.logger)
	}
}

// invokeCallbackSafe calls an attempt callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(PollAttempt), a PollAttempt, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("attempt callback panicked",
				"panic", r,
				"job_id", a.JobID,
				"attempt", a.Number,
			)
		}
	}()
	cb(a)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// errorClass returns a short label for a poll error, used in logs and metrics.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrJobFailed):
		return "failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
