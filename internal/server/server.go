package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/saralmitti"
	"github.com/jpalmerr/saralmitti/internal/metrics"
	"github.com/jpalmerr/saralmitti/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdownTimeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// DefaultProcessingTime is how long an upload stays processing.
	DefaultProcessingTime = 2500 * time.Millisecond

	// DefaultMaxUploadBytes caps the accepted image size.
	DefaultMaxUploadBytes = 10 << 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100

	// multipartMemory is the part of a form kept in memory while parsing.
	multipartMemory = 1 << 20

	corruptImageMessage = "corrupt image"
	interruptedMessage  = "analysis interrupted, please upload again"

	// storeWriteTimeout bounds the final write of an interrupted job.
	storeWriteTimeout = 2 * time.Second
)

// Config holds the server settings. Zero values select the defaults.
type Config struct {
	Port int

	// ProcessingTime is how long each job reports processing.
	ProcessingTime time.Duration

	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string

	MaxUploadBytes int64
}

// Server serves the analysis API backed by a [store.Store].
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	cfg        Config
	store      store.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
	now        func() time.Time

	// jobCtx bounds background analyses; Close cancels it.
	jobCtx     context.Context
	cancelJobs context.CancelFunc
	jobs       sync.WaitGroup
	closeOnce  sync.Once
	done       chan struct{}
}

// New creates a [Server]. A nil m registers fresh metrics on a private
// registry.
//
// The server is not started until [Server.Start] is called; [Server.Handler]
// can be mounted directly instead.
func New(cfg Config, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	if cfg.ProcessingTime <= 0 {
		cfg.ProcessingTime = DefaultProcessingTime
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	if logger == nil {
		logger = slog.Default()
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		store:      st,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		jobCtx:     jobCtx,
		cancelJobs: cancel,
		done:       make(chan struct{}),
	}
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.AuthToken))

		r.Post("/api/analyze/upload", s.handleUpload)
		r.Get("/api/analyze/result/{id}", s.handleResult)
		r.Get("/api/analyze/history", s.handleHistory)
		r.Get("/api/analyze/events", s.handleEvents)
	})

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. When ctx is cancelled the server shuts down gracefully, stops
// pending analyses and closes [Server.Done].
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so event streams end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
		s.Close()
		close(s.done)
	}()

	s.logger.Info("analysis server listening", "addr", ln.Addr().String())
	return nil
}

// Done is closed once a started server has fully shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Close cancels pending analyses and waits for them to exit. It does not
// close the store.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancelJobs()
		s.jobs.Wait()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Store unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart form with an "image" file and optional
// "type" and "metadata" fields, stores a processing job and starts its
// analysis in the background.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				"IMAGE_TOO_LARGE", fmt.Sprintf("Image must not exceed %d bytes", s.cfg.MaxUploadBytes), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Expected a multipart form", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_IMAGE", "Form field \"image\" is required", nil)
		return
	}
	defer file.Close()

	analysisType := saralmitti.AnalysisType(r.FormValue("type"))
	if analysisType == "" {
		analysisType = saralmitti.AnalysisSoil
	}
	if !analysisType.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_TYPE",
			"Analysis type must be soil or crop", map[string]string{"type": string(analysisType)})
		return
	}

	var meta *saralmitti.UploadMetadata
	if raw := r.FormValue("metadata"); raw != "" {
		meta = &saralmitti.UploadMetadata{}
		if err := json.Unmarshal([]byte(raw), meta); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_METADATA", "Metadata must be a JSON object", nil)
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNREADABLE_IMAGE", "Failed to read image", nil)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "EMPTY_IMAGE", "Image is empty", nil)
		return
	}

	now := s.now()
	job := store.Job{
		ID:        uuid.NewString(),
		Type:      analysisType,
		Filename:  header.Filename,
		Status:    saralmitti.JobStatusProcessing,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(r.Context(), job); err != nil {
		s.logger.Error("failed to store job", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to register job", nil)
		return
	}

	s.metrics.UploadAccepted(string(analysisType))
	s.logger.Info("upload accepted",
		"job_id", job.ID,
		"type", string(analysisType),
		"filename", header.Filename,
		"bytes", len(data),
	)

	s.jobs.Add(1)
	go s.analyze(job, data)

	writeJSON(w, http.StatusAccepted, saralmitti.UploadResponse{
		ID:      job.ID,
		Status:  string(saralmitti.JobStatusProcessing),
		Message: "Image received, analysis in progress",
	})
}

// analyze waits out the processing time and records the job's terminal
// state.
func (s *Server) analyze(job store.Job, data []byte) {
	defer s.jobs.Done()

	timer := time.NewTimer(s.cfg.ProcessingTime)
	defer timer.Stop()

	select {
	case <-s.jobCtx.Done():
		s.interrupt(job)
		return
	case <-timer.C:
	}

	now := s.now()
	job.UpdatedAt = now
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		job.Status = saralmitti.JobStatusFailed
		job.Message = corruptImageMessage
		s.logger.Info("analysis failed", "job_id", job.ID, "error", err)
	} else {
		rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		job.Status = saralmitti.JobStatusCompleted
		job.Result = saralmitti.GenerateMockResult(job.ID, rng, now)
		s.logger.Info("analysis completed", "job_id", job.ID, "format", format)
	}

	if err := s.store.Put(s.jobCtx, job); err != nil {
		s.logger.Error("failed to store analysis", "job_id", job.ID, "error", err)
	}
	s.metrics.JobFinished(string(job.Status), now.Sub(job.CreatedAt))
}

// interrupt records a job abandoned by shutdown as failed so pollers and
// other replicas sharing the store stop waiting on it.
func (s *Server) interrupt(job store.Job) {
	now := s.now()
	job.Status = saralmitti.JobStatusFailed
	job.Message = interruptedMessage
	job.UpdatedAt = now

	// jobCtx is already cancelled
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.Put(ctx, job); err != nil {
		s.logger.Error("failed to store interrupted job", "job_id", job.ID, "error", err)
	}
	s.metrics.JobFinished(string(job.Status), now.Sub(job.CreatedAt))
	s.logger.Warn("analysis interrupted by shutdown", "job_id", job.ID)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "No analysis job with this id", nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to load job", nil)
		return
	}

	s.metrics.StatusQueried(string(job.Status))
	writeJSON(w, http.StatusOK, job.StatusResponse())
}

// handleHistory lists recent jobs, newest first. The optional "limit" query
// parameter defaults to 20 and is capped at 100.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	jobs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list jobs", nil)
		return
	}
	writeData(w, jobs)
}

// handleEvents streams job updates via Server-Sent Events.
//
// Recent jobs are sent first, then every update as it is stored. Writes
// carry a deadline so a stalled client cannot pin the handler.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming not supported", nil)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	ch, err := s.store.Subscribe(r.Context())
	if err != nil {
		s.logger.Error("failed to subscribe to job updates", "error", err)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Failed to subscribe to updates", nil)
		return
	}
	defer s.store.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	recent, err := s.store.List(r.Context(), defaultHistoryLimit)
	if err != nil {
		s.logger.Warn("failed to load recent jobs", "error", err)
	}
	// oldest first, so the stream reads in order
	for i := len(recent) - 1; i >= 0; i-- {
		data, err := json.Marshal(recent[i])
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case job, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(job)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and, via BaseContext, on shutdown
			return
		}
	}
}
