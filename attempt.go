package saralmitti

import "time"

// AttemptOutcome classifies a single status query.
type AttemptOutcome string

const (
	OutcomeProcessing AttemptOutcome = "processing"
	OutcomeCompleted  AttemptOutcome = "completed"
	OutcomeFailed     AttemptOutcome = "failed"

	// OutcomeTransient covers transport errors, non-2xx responses,
	// undecodable bodies and unknown status values.
	OutcomeTransient AttemptOutcome = "transient"
)

// PollAttempt describes one status query of a poll sequence. It is passed to
// callbacks registered with [WithAttemptCallback] and never stored.
type PollAttempt struct {
	JobID string

	// Number is the 1-based attempt counter.
	Number int

	// MaxAttempts is the budget of the sequence this attempt belongs to.
	MaxAttempts int

	// Delay is the wait before the next query. Zero when no further query
	// will be made.
	Delay time.Duration

	Outcome AttemptOutcome

	// Err is set for transient and failed outcomes.
	Err error

	Latency   time.Duration
	CheckedAt time.Time
}

// Last reports whether no further query follows this attempt.
func (a PollAttempt) Last() bool {
	return a.Delay == 0
}
