package store

import (
	"context"
	"errors"
	"time"

	"github.com/jpalmerr/saralmitti"
)

// ErrNotFound is returned by Get when no job has the requested id.
var ErrNotFound = errors.New("job not found")

// subscriberBuffer is the channel capacity given to each subscriber.
const subscriberBuffer = 100

// Job is the stored state of one analysis job.
type Job struct {
	ID       string                  `json:"id"`
	Type     saralmitti.AnalysisType `json:"type"`
	Filename string                  `json:"filename,omitempty"`
	Status   saralmitti.JobStatus    `json:"status"`

	// Message is the failure reason of a failed job.
	Message string `json:"message,omitempty"`

	Metadata *saralmitti.UploadMetadata `json:"metadata,omitempty"`

	// Result is set once Status is completed.
	Result *saralmitti.AnalysisResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusResponse renders the job in the shape returned by the status
// endpoint. A processing job carries only its id and status.
func (j Job) StatusResponse() *saralmitti.StatusResponse {
	resp := &saralmitti.StatusResponse{
		ID:     j.ID,
		Status: string(j.Status),
	}
	switch j.Status {
	case saralmitti.JobStatusFailed:
		resp.Message = j.Message
	case saralmitti.JobStatusCompleted:
		if j.Result != nil {
			soil := j.Result.Soil
			ts := j.Result.Timestamp
			resp.Soil = &soil
			resp.Crops = append([]saralmitti.CropRecommendation(nil), j.Result.Crops...)
			resp.Timestamp = &ts
		}
	}
	return resp
}

// Store defines the interface for job storage and update subscription.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put creates or replaces the job with the same ID and notifies
	// subscribers.
	Put(ctx context.Context, job Job) error

	// Get returns the job with the given id, or [ErrNotFound].
	Get(ctx context.Context, id string) (Job, error)

	// List returns up to limit jobs, newest first. A limit of zero or less
	// returns every job.
	List(ctx context.Context, limit int) ([]Job, error)

	// Subscribe returns a channel receiving every job passed to Put from
	// now on. Callers must call Unsubscribe when done.
	Subscribe(ctx context.Context) (<-chan Job, error)

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(ch <-chan Job)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
