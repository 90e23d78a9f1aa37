package saralmitti

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors returned (wrapped) by [ResultPoller.PollResult].
//
// Use errors.Is to test the class of a failure and errors.As to reach the
// typed error carrying its details.
var (
	// ErrTimeout means the attempt budget ran out while the job was still
	// processing.
	ErrTimeout = errors.New("analysis timed out")

	// ErrJobFailed means the backend reported the job as failed.
	ErrJobFailed = errors.New("analysis failed")

	// ErrTransient means status queries kept failing at the transport level
	// until the attempt budget ran out.
	ErrTransient = errors.New("transient backend error")

	// ErrInvalidJobID is returned for an empty job id. No query is made.
	ErrInvalidJobID = errors.New("job id is required")

	// ErrUnexpectedStatus is the cause recorded when the backend answers with
	// a status value outside processing, completed and failed.
	ErrUnexpectedStatus = errors.New("unexpected job status")

	// ErrBackendUnreachable wraps connection-level failures.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrRequestTimeout wraps a single status or upload request that exceeded
	// its per-request timeout.
	ErrRequestTimeout = errors.New("backend request timeout")
)

// defaultFailureMessage is used when the backend reports failure without a reason.
const defaultFailureMessage = "Analysis failed"

// TimeoutError reports an exhausted attempt budget for a job.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis timeout for job %s: maximum polling attempts reached (%d)", e.JobID, e.Attempts)
}

// Is reports whether target is [ErrTimeout].
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// JobFailedError carries the backend's failure message verbatim.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return e.Message
}

// Is reports whether target is [ErrJobFailed].
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}

// TransientError is returned when the last allowed status query failed at the
// transport level. Err is the failure of that last query.
type TransientError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("polling job %s failed after %d attempts: %v", e.JobID, e.Attempts, e.Err)
}

// Is reports whether target is [ErrTransient].
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StatusCodeError is returned by the HTTP backend for a non-2xx response.
type StatusCodeError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusCodeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}
