package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/saralmitti"
)

func main() {
	// start flaky backend (see mock_server.go)
	go StartFlakyAnalysisServer(":9999")
	time.Sleep(100 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	rp, err := saralmitti.New(
		saralmitti.WithBaseURL("http://localhost:9999"),
		saralmitti.WithMaxAttempts(20),
		saralmitti.WithInitialDelay(500*time.Millisecond),
		saralmitti.WithMaxConcurrency(3),
		saralmitti.WithLogger(logger),
		saralmitti.WithAttemptCallback(func(a saralmitti.PollAttempt) {
			fmt.Printf("  %-8s attempt %2d/%d  %-10s  %s\n",
				a.JobID, a.Number, a.MaxAttempts, a.Outcome, a.Latency.Round(time.Millisecond))
		}),
	)
	if err != nil {
		slog.Error("failed to create poller", "error", err)
		os.Exit(1)
	}
	defer rp.Close()

	fmt.Println()
	fmt.Println("  Polling 5 jobs against a flaky backend on :9999")
	fmt.Println("  (1 in 4 queries fails with 503, 1 in 5 jobs fails)")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := []string{"job-1", "job-2", "job-3", "job-4", "job-5"}
	for br := range rp.PollAll(ctx, jobs) {
		var jfe *saralmitti.JobFailedError
		switch {
		case br.Err == nil:
			top, _ := br.Result.TopCrop()
			fmt.Printf("✓ %s completed in %s: %s soil, grow %s\n",
				br.JobID, br.Elapsed.Round(time.Millisecond), br.Result.Soil.SoilType, top.Name)
		case errors.As(br.Err, &jfe):
			fmt.Printf("✗ %s failed: %s\n", br.JobID, jfe.Message)
		default:
			fmt.Printf("✗ %s: %v\n", br.JobID, br.Err)
		}
	}
}
