package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work run by a [Pool]. Key identifies the task in its
// [Outcome] and in logs.
type Task[T any] struct {
	Key string
	Run func(ctx context.Context) (T, error)
}

// Outcome holds the result of running a single [Task].
type Outcome[T any] struct {
	Key   string
	Value T
	Err   error

	// StartedAt is when a worker picked the task up.
	StartedAt time.Time

	// Duration is the time spent in the task's Run function.
	Duration time.Duration
}

// Pool runs a fixed batch of tasks on a bounded set of workers.
//
// Outcomes are emitted on [Pool.Results] in completion order. The channel is
// closed once every task has finished, or once the pool is stopped.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Pool[T any] struct {
	maxConcurrency int
	results        chan Outcome[T]
	logger         *slog.Logger
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once
}

// NewPool creates a [Pool] running at most maxConcurrency tasks at once.
// Values below one are treated as one.
func NewPool[T any](maxConcurrency int, logger *slog.Logger) *Pool[T] {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		maxConcurrency: maxConcurrency,
		results:        make(chan Outcome[T], maxConcurrency),
		logger:         logger,
	}
}

// Results returns a receive-only channel that emits one [Outcome] per task.
//
// Consumers should read until the channel is closed. A consumer that stops
// reading early must call [Pool.Stop] to release the workers.
func (p *Pool[T]) Results() <-chan Outcome[T] {
	return p.results
}

// Start runs tasks in background goroutines and returns immediately.
//
// If ctx is nil, context.Background() is used. Start is idempotent;
// subsequent calls after the first are no-ops. If Stop was called before
// Start, Start is a no-op.
func (p *Pool[T]) Start(ctx context.Context, tasks []Task[T]) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.closeOnce.Do(func() { close(p.results) })
		defer cancel()

		p.runTasks(runCtx, tasks)
	}()
}

// Stop cancels any running tasks and waits for all workers to exit.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op that closes the results channel.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		if p.cancel != nil {
			p.cancel()
		}
	}
	p.mu.Unlock()

	p.wg.Wait()

	// ensure channel is closed even if Start() was never called
	p.closeOnce.Do(func() { close(p.results) })
}

// runTasks feeds tasks to the workers, respecting maxConcurrency.
func (p *Pool[T]) runTasks(ctx context.Context, tasks []Task[T]) {
	jobs := make(chan Task[T], len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.maxConcurrency && i < len(tasks); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				outcome := p.runTask(ctx, task)
				select {
				case p.results <- outcome:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, task := range tasks {
		select {
		case jobs <- task:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)

	wg.Wait()
}

// runTask runs a single task and records its outcome.
func (p *Pool[T]) runTask(ctx context.Context, task Task[T]) Outcome[T] {
	start := time.Now()
	value, err := p.safeRun(ctx, task)
	return Outcome[T]{
		Key:       task.Key,
		Value:     value,
		Err:       err,
		StartedAt: start,
		Duration:  time.Since(start),
	}
}

// safeRun calls the task with panic recovery.
// If the task panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (p *Pool[T]) safeRun(ctx context.Context, task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			// log full context server-side for debugging
			p.logger.Error("task panic",
				"correlation_id", correlationID,
				"key", task.Key,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			var zero T
			value = zero
			err = fmt.Errorf("task panic (correlation_id: %s)", correlationID)
		}
	}()
	return task.Run(ctx)
}
