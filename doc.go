// Package saralmitti retrieves soil-analysis results from the Saral Mitti
// analysis service.
//
// Analysis runs asynchronously on the backend: an image upload returns a job
// id, and the client polls the job's status until it is completed or failed.
// [ResultPoller] implements that flow with a bounded attempt budget and a
// delay that grows only once a job has been processing for a while, so slow
// jobs do not flood the backend.
//
// # Quick Start
//
//	rp, err := saralmitti.New(
//	    saralmitti.WithBaseURL("https://api.saralmitti.in"),
//	    saralmitti.WithToken(token),
//	)
//	if err != nil {
//	    return err
//	}
//	defer rp.Close()
//
//	result, err := rp.Analyze(ctx, saralmitti.UploadRequest{
//	    Image:    f,
//	    Filename: "field.jpg",
//	})
//
// # Failures
//
// Every failed poll is classified so callers can show the right message:
//
//   - [ErrTimeout]: the job was still processing when the attempt budget ran out
//   - [ErrJobFailed]: the backend rejected the job; the message says why
//   - [ErrTransient]: the backend could not be reached or answered garbage
//
// Cancelling the context stops polling at the next request or sleep and
// returns the context's error.
//
// # Mock Mode
//
// Without a base URL (or with one on example.com) the poller answers from a
// [MockBackend] that fabricates results after a short processing time. Job
// ids starting with "mock-" are always answered by the mock.
//
// # Architecture
//
// The module consists of several internal packages (under internal/):
//
//   - internal/poller: HTTP client and bounded worker pool
//   - internal/store: Job records for the demo analysis server (memory or Redis)
//   - internal/server: Demo analysis server speaking the backend's HTTP API
//   - internal/metrics: Prometheus metrics for the demo server
//
// The internal packages are not part of the public API and may change
// without notice.
package saralmitti
