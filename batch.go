package saralmitti

import (
	"context"
	"time"

	"github.com/jpalmerr/saralmitti/internal/poller"
)

// BatchResult is the outcome of polling one job in [ResultPoller.PollAll].
// Exactly one of Result and Err is set.
type BatchResult struct {
	JobID  string
	Result *AnalysisResult
	Err    error

	// Elapsed is the wall time of the job's whole poll sequence.
	Elapsed time.Duration
}

// PollAll polls several independent jobs concurrently, at most
// [WithMaxConcurrency] at a time, and streams one [BatchResult] per distinct
// job id in completion order.
//
// Each job runs its own poll sequence with the given options, exactly as
// [ResultPoller.PollResult] would. Duplicate and empty ids are dropped. The
// returned channel is closed once every job is done or ctx is cancelled;
// callers should drain it.
func (p *ResultPoller) PollAll(ctx context.Context, jobIDs []string, opts ...PollOption) <-chan BatchResult {
	seen := make(map[string]struct{}, len(jobIDs))
	tasks := make([]poller.Task[*AnalysisResult], 0, len(jobIDs))
	for _, id := range jobIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		jobID := id
		tasks = append(tasks, poller.Task[*AnalysisResult]{
			Key: jobID,
			Run: func(ctx context.Context) (*AnalysisResult, error) {
				return p.PollResult(ctx, jobID, opts...)
			},
		})
	}

	pool := poller.NewPool[*AnalysisResult](p.maxConcurrency, p.logger)
	pool.Start(ctx, tasks)

	out := make(chan BatchResult)
	go func() {
		defer close(out)
		defer pool.Stop()

		for o := range pool.Results() {
			p.logger.Debug("batch job finished",
				"job_id", o.Key,
				"outcome", errorClass(o.Err),
				"elapsed", o.Duration.String(),
			)
			br := BatchResult{JobID: o.Key, Result: o.Value, Err: o.Err, Elapsed: o.Duration}
			select {
			case out <- br:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
