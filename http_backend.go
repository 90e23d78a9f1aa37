package saralmitti

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpalmerr/saralmitti/internal/poller"
)

const (
	uploadPath = "/api/analyze/upload"
	resultPath = "/api/analyze/result/"

	// uploads carry an image, so they get a longer bound than status queries
	uploadTimeoutFactor = 6

	// maxErrorBodyLen bounds how much of an error response is kept in errors.
	maxErrorBodyLen = 256
)

// httpBackend talks to the analysis service over HTTP.
type httpBackend struct {
	baseURL        string
	client         *poller.Client
	requestTimeout time.Duration
}

func newHTTPBackend(baseURL string, client *poller.Client, requestTimeout time.Duration) *httpBackend {
	return &httpBackend{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         client,
		requestTimeout: requestTimeout,
	}
}

// NewHTTPBackend returns a [Backend] for the analysis service at baseURL.
// The caller owns the returned backend's connections for its lifetime.
func NewHTTPBackend(baseURL string, requestTimeout time.Duration) Backend {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return newHTTPBackend(baseURL, poller.NewClient(), requestTimeout)
}

func authHeaders(credential string) map[string]string {
	headers := map[string]string{"Accept": "application/json"}
	if credential != "" {
		headers["Authorization"] = "Bearer " + credential
	}
	return headers
}

// Status performs GET {base}/api/analyze/result/{id}.
func (b *httpBackend) Status(ctx context.Context, jobID, credential string) (*StatusResponse, error) {
	resp := b.client.Fetch(ctx, poller.Request{
		Method:  http.MethodGet,
		URL:     b.baseURL + resultPath + url.PathEscape(jobID),
		Headers: authHeaders(credential),
		Timeout: b.requestTimeout,
	})
	if resp.Error != nil {
		return nil, classifyError(resp.Error)
	}
	if !resp.OK() {
		return nil, &StatusCodeError{
			Op:         "failed to fetch result",
			StatusCode: resp.StatusCode,
			Body:       truncate(string(resp.Body), maxErrorBodyLen),
		}
	}

	var sr StatusResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}
	return &sr, nil
}

// Upload performs a multipart POST {base}/api/analyze/upload with the image,
// the analysis type and, when present, the JSON-encoded metadata.
func (b *httpBackend) Upload(ctx context.Context, req UploadRequest, credential string) (*UploadResponse, error) {
	var metadata []byte
	if req.Metadata != nil {
		var err error
		metadata, err = json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// stream the form so large images are never buffered whole
	go func() {
		pw.CloseWithError(writeUploadForm(mw, req, metadata))
	}()
	defer func() { _ = pr.Close() }()

	headers := authHeaders(credential)
	headers["Content-Type"] = mw.FormDataContentType()

	resp := b.client.Fetch(ctx, poller.Request{
		Method:  http.MethodPost,
		URL:     b.baseURL + uploadPath,
		Headers: headers,
		Body:    pr,
		Timeout: b.requestTimeout * uploadTimeoutFactor,
	})
	if resp.Error != nil {
		return nil, classifyError(resp.Error)
	}
	if !resp.OK() {
		return nil, &StatusCodeError{
			Op:         "upload failed",
			StatusCode: resp.StatusCode,
			Body:       truncate(string(resp.Body), maxErrorBodyLen),
		}
	}

	var ur UploadResponse
	if err := json.Unmarshal(resp.Body, &ur); err != nil {
		return nil, fmt.Errorf("invalid upload response format: %w", err)
	}
	return &ur, nil
}

func writeUploadForm(mw *multipart.Writer, req UploadRequest, metadata []byte) error {
	part, err := mw.CreateFormFile("image", req.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Image); err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if err := mw.WriteField("type", string(req.Type)); err != nil {
		return err
	}
	if metadata != nil {
		if err := mw.WriteField("metadata", string(metadata)); err != nil {
			return err
		}
	}
	return mw.Close()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
