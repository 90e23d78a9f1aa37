package saralmitti

import (
	"errors"
	"time"
)

// BackoffPolicy controls how the delay between status queries grows.
//
// The delay stays at its initial value until the product of attempts and the
// current delay exceeds Threshold. From then on each processing response
// multiplies the delay by Factor, capped at MaxDelay.
type BackoffPolicy struct {
	Threshold time.Duration
	Factor    float64
	MaxDelay  time.Duration
}

// DefaultBackoff is the policy used unless [WithBackoff] overrides it:
// growth starts after roughly 20 seconds of polling and the delay never
// exceeds 5 seconds.
var DefaultBackoff = BackoffPolicy{
	Threshold: 20 * time.Second,
	Factor:    1.5,
	MaxDelay:  5 * time.Second,
}

// Validate checks that the policy can produce a sane schedule.
func (b BackoffPolicy) Validate() error {
	if b.Threshold < 0 {
		return errors.New("backoff threshold cannot be negative")
	}
	if b.Factor < 1 {
		return errors.New("backoff factor must be at least 1")
	}
	if b.MaxDelay <= 0 {
		return errors.New("backoff max delay must be positive")
	}
	return nil
}

// Next returns the delay to use after a processing response on the given
// attempt, where delay is the delay that was just slept.
//
// Next is pure: the same inputs always give the same output.
func (b BackoffPolicy) Next(attempts int, delay time.Duration) time.Duration {
	if time.Duration(attempts)*delay <= b.Threshold {
		return delay
	}
	next := time.Duration(float64(delay) * b.Factor)
	if next > b.MaxDelay {
		next = b.MaxDelay
	}
	return next
}

// Schedule returns the delays slept between consecutive queries for a job
// that never leaves processing, given maxAttempts and initialDelay. Its
// length is maxAttempts-1 because no sleep follows the last query.
func (b BackoffPolicy) Schedule(maxAttempts int, initialDelay time.Duration) []time.Duration {
	if maxAttempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, 0, maxAttempts-1)
	delay := initialDelay
	for attempt := 1; attempt < maxAttempts; attempt++ {
		delays = append(delays, delay)
		delay = b.Next(attempt, delay)
	}
	return delays
}
