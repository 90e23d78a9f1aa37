package saralmitti

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FarmerContext is the questionnaire a farmer fills in before uploading a
// soil photo. Every field is optional.
type FarmerContext struct {
	State              string   `json:"state,omitempty"`
	District           string   `json:"district,omitempty"`
	Town               string   `json:"town,omitempty"`
	Village            string   `json:"village,omitempty"`
	WaterSource        string   `json:"waterSource,omitempty"`
	WaterSourceDetails string   `json:"waterSourceDetails,omitempty"`
	Last3Crops         []string `json:"last3Crops,omitempty"`
	CurrentCrop        string   `json:"currentCrop,omitempty"`
	PlannedCrop        string   `json:"plannedCrop,omitempty"`
	YieldTrend         string   `json:"yieldTrend,omitempty"`
	YieldDetails       string   `json:"yieldDetails,omitempty"`
	TestReason         string   `json:"testReason,omitempty"`
	TestReasonDetails  string   `json:"testReasonDetails,omitempty"`
	RecentFertilizers  []string `json:"recentFertilizers,omitempty"`
	RecentPesticides   []string `json:"recentPesticides,omitempty"`
	Season             string   `json:"season,omitempty"`
}

// UploadMetadata is sent alongside the image as a JSON form field.
type UploadMetadata struct {
	Location       string         `json:"location,omitempty"`
	PreviousCrop   string         `json:"previousCrop,omitempty"`
	IrrigationType string         `json:"irrigationType,omitempty"`
	FarmerContext  *FarmerContext `json:"farmerContext,omitempty"`
}

// UploadRequest describes one image upload.
type UploadRequest struct {
	// Image is read to the end during the upload.
	Image io.Reader

	// Filename is sent as the multipart file name.
	Filename string

	// Size is the image size in bytes. When positive it enables progress
	// reporting.
	Size int64

	// Type defaults to [AnalysisSoil].
	Type AnalysisType

	Metadata *UploadMetadata

	// Progress, when set, receives the upload progress as a whole
	// percentage from 0 to 100. Values never decrease.
	Progress func(percent int)
}

// validate normalises the request and reports the first problem found.
func (r *UploadRequest) validate() error {
	if r.Image == nil {
		return errors.New("upload: image is required")
	}
	if strings.TrimSpace(r.Filename) == "" {
		return errors.New("upload: filename is required")
	}
	if r.Type == "" {
		r.Type = AnalysisSoil
	}
	if !r.Type.Valid() {
		return fmt.Errorf("upload: unsupported analysis type %q", r.Type)
	}
	return nil
}

// progressReader reports read progress of a known-size stream.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     int
	progress func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && p.progress != nil {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.last {
			p.last = pct
			p.progress(pct)
		}
	}
	return n, err
}

// Upload submits an image for analysis and returns the job id to poll.
//
// The credential is resolved the same way as for [ResultPoller.PollResult].
func (p *ResultPoller) Upload(ctx context.Context, req UploadRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	credential, err := p.resolveCredential(ctx, "")
	if err != nil {
		return "", err
	}

	if req.Progress != nil && req.Size > 0 {
		req.Image = &progressReader{r: req.Image, total: req.Size, progress: req.Progress}
	}

	resp, err := p.backend.Upload(ctx, req, credential)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("upload failed: %w", err)
	}
	if resp == nil {
		return "", errors.New("upload failed: backend returned an empty response")
	}
	if resp.ID == "" {
		return "", errors.New("upload failed: backend returned no job id")
	}

	p.logger.Info("image uploaded",
		"job_id", resp.ID,
		"type", string(req.Type),
		"status", resp.Status,
	)
	return resp.ID, nil
}

// Analyze uploads an image and polls until its analysis is terminal.
func (p *ResultPoller) Analyze(ctx context.Context, req UploadRequest, opts ...PollOption) (*AnalysisResult, error) {
	jobID, err := p.Upload(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.PollResult(ctx, jobID, opts...)
}
