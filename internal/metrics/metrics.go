// Package metrics defines the Prometheus collectors exported by the demo
// analysis backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "saralmitti"

	uploadsTotal        = "uploads_total"
	jobsFinishedTotal   = "jobs_finished_total"
	statusQueriesTotal  = "status_queries_total"
	jobsInFlight        = "jobs_in_flight"
	analysisDuration    = "analysis_duration_seconds"
	httpRequestsTotal   = "http_requests_total"
	httpRequestDuration = "http_request_duration_seconds"

	// Labels
	typeLabel   = "type"
	statusLabel = "status"
	codeLabel   = "code"
	methodLabel = "method"
	pathLabel   = "path"
)

// Metrics holds every collector of the backend, registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	uploads       *prometheus.CounterVec
	finished      *prometheus.CounterVec
	statusQueries *prometheus.CounterVec
	inFlight      prometheus.Gauge
	duration      prometheus.Histogram
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
//
// Passing a fresh prometheus.NewRegistry keeps tests isolated from the
// global default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      uploadsTotal,
				Help:      "number of accepted image uploads",
			},
			[]string{typeLabel},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      jobsFinishedTotal,
				Help:      "number of analysis jobs that reached a terminal status",
			},
			[]string{statusLabel},
		),
		statusQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      statusQueriesTotal,
				Help:      "number of status queries answered, by reported status",
			},
			[]string{statusLabel},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      jobsInFlight,
				Help:      "number of analysis jobs currently processing",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      analysisDuration,
				Help:      "time from upload to terminal status",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30},
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      httpRequestsTotal,
				Help:      "Number of HTTP requests partitioned by status code, method and HTTP path.",
			},
			[]string{codeLabel, methodLabel, pathLabel},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      httpRequestDuration,
				Help:      "Time spent on the request partitioned by status code, method and HTTP path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{codeLabel, methodLabel, pathLabel},
		),
	}

	reg.MustRegister(
		m.uploads,
		m.finished,
		m.statusQueries,
		m.inFlight,
		m.duration,
		m.requests,
		m.latency,
	)
	return m
}

// UploadAccepted records an accepted upload and a new in-flight job.
func (m *Metrics) UploadAccepted(analysisType string) {
	m.uploads.With(prometheus.Labels{typeLabel: analysisType}).Inc()
	m.inFlight.Inc()
}

// JobFinished records a job reaching status after elapsed.
func (m *Metrics) JobFinished(status string, elapsed time.Duration) {
	m.finished.With(prometheus.Labels{statusLabel: status}).Inc()
	m.inFlight.Dec()
	m.duration.Observe(elapsed.Seconds())
}

// StatusQueried records one answered status query.
func (m *Metrics) StatusQueried(status string) {
	m.statusQueries.With(prometheus.Labels{statusLabel: status}).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests and their latency by chi route pattern, so
// "/api/analyze/result/{id}" is one series regardless of the id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if rp := rctx.RoutePattern(); rp != "" {
				path = rp
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			codeLabel:   strconv.Itoa(status),
			methodLabel: r.Method,
			pathLabel:   path,
		}
		m.requests.With(labels).Inc()
		m.latency.With(labels).Observe(time.Since(start).Seconds())
	})
}
