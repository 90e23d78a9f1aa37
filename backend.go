package saralmitti

import (
	"context"
	"net/url"
	"strings"
)

// Backend is the analysis service a [ResultPoller] talks to.
//
// Implementations must be safe for concurrent use: [ResultPoller.PollAll]
// queries many jobs at once. An error returned from Status is treated as a
// transient fault and retried.
type Backend interface {
	// Upload submits an image for analysis and returns the created job.
	Upload(ctx context.Context, req UploadRequest, credential string) (*UploadResponse, error)

	// Status performs one status query for jobID.
	Status(ctx context.Context, jobID, credential string) (*StatusResponse, error)
}

// mockIDPrefix marks job ids created by [MockBackend].
const mockIDPrefix = "mock-"

// IsMockID reports whether jobID was issued by a [MockBackend]. Such ids are
// always resolved by the mock, even when a real backend is configured.
func IsMockID(jobID string) bool {
	return strings.HasPrefix(jobID, mockIDPrefix)
}

// IsMockURL reports whether baseURL should select mock mode: an empty URL or
// one pointing at example.com (or a subdomain of it).
func IsMockURL(baseURL string) bool {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "example.com" || strings.HasSuffix(host, ".example.com")
}
