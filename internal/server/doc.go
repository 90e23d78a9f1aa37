// Package server implements a self-contained analysis backend speaking the
// same HTTP API as the production service.
//
// It accepts image uploads, "analyses" them after a configurable processing
// time and answers status queries, so the poller and CLI can be exercised
// end to end without the real service:
//
//   - POST /api/analyze/upload: multipart image upload, returns a job id
//   - GET /api/analyze/result/{id}: job status, with the result once completed
//   - GET /api/analyze/history: recent jobs, newest first
//   - GET /api/analyze/events: Server-Sent Events stream of job updates
//   - GET /healthz and GET /metrics
//
// Images that cannot be decoded as JPEG, PNG or GIF fail with
// "corrupt image". Every other upload completes with a generated result.
package server
