package saralmitti

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPBackend_Status(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "job-1",
			"status": "completed",
			"soil": {"soilType": "Clay", "pH": 7.1, "nitrogen": 0.9, "phosphorus": 0.2,
				"potassium": 0.4, "organicMatter": 3.1, "moisture": 22, "healthScore": 80, "confidence": 90},
			"crops": [{"name": "Rice", "nameHindi": "चावल", "suitability": 85, "expectedYield": 45,
				"growthPeriod": 150, "waterNeeds": "high"}],
			"timestamp": "2024-03-01T10:00:00Z"
		}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL+"/", time.Second)
	resp, err := b.Status(context.Background(), "job-1", "secret")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if gotPath != "/api/analyze/result/job-1" {
		t.Errorf("path = %v, want /api/analyze/result/job-1", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
	if resp.JobStatus() != JobStatusCompleted {
		t.Errorf("status = %v, want completed", resp.Status)
	}

	result := resp.Result("job-1")
	if result.Soil.PH != 7.1 {
		t.Errorf("Soil.PH = %v, want 7.1", result.Soil.PH)
	}
	if result.Crops[0].WaterNeeds != WaterHigh {
		t.Errorf("WaterNeeds = %v, want high", result.Crops[0].WaterNeeds)
	}
	if !result.Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", result.Timestamp)
	}
}

func TestHTTPBackend_StatusNoCredential(t *testing.T) {
	var hasAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`{"id":"j","status":"processing"}`))
	}))
	defer server.Close()

	if _, err := NewHTTPBackend(server.URL, time.Second).Status(context.Background(), "j", ""); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if hasAuth {
		t.Error("Authorization header sent without a credential")
	}
}

func TestHTTPBackend_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "database down", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var sce *StatusCodeError
				if !errors.As(err, &sce) {
					t.Fatalf("error %T is not *StatusCodeError", err)
				}
				if sce.StatusCode != http.StatusInternalServerError {
					t.Errorf("StatusCode = %v, want 500", sce.StatusCode)
				}
				if !strings.Contains(sce.Error(), "database down") {
					t.Errorf("Error() = %v, want body excerpt", sce.Error())
				}
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var sce *StatusCodeError
				if !errors.As(err, &sce) || sce.StatusCode != http.StatusNotFound {
					t.Errorf("error = %v, want 404 StatusCodeError", err)
				}
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>gateway</html>"))
			},
			check: func(t *testing.T, err error) {
				if !strings.Contains(err.Error(), "invalid status response") {
					t.Errorf("error = %v, want invalid status response", err)
				}
			},
		},
		{
			name: "request timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(2 * time.Second):
				case <-r.Context().Done():
				}
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrRequestTimeout) {
					t.Errorf("error = %v, want ErrRequestTimeout", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewHTTPBackend(server.URL, 100*time.Millisecond).Status(context.Background(), "job", "")
			if err == nil {
				t.Fatal("Status() expected error, got nil")
			}
			tt.check(t, err)
		})
	}
}

func TestHTTPBackend_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewHTTPBackend(url, time.Second).Status(context.Background(), "job", "")
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Errorf("Status() error = %v, want ErrBackendUnreachable", err)
	}
}

func TestHTTPBackend_Upload(t *testing.T) {
	var (
		gotType, gotFilename, gotImage string
		gotMeta                        UploadMetadata
		gotAuth                        string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze/upload" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotType = r.FormValue("type")
		_ = json.Unmarshal([]byte(r.FormValue("metadata")), &gotMeta)

		f, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "Image file is required", http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = header.Filename
		b, _ := io.ReadAll(f)
		gotImage = string(b)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job-42","status":"processing","message":"Image uploaded successfully"}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(server.URL, time.Second)
	resp, err := b.Upload(context.Background(), UploadRequest{
		Image:    strings.NewReader("fake-jpeg"),
		Filename: "field.jpg",
		Type:     AnalysisCrop,
		Metadata: &UploadMetadata{
			Location:      "Nashik",
			FarmerContext: &FarmerContext{State: "Maharashtra", Last3Crops: []string{"Onion", "Grapes"}},
		},
	}, "tok")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if resp.ID != "job-42" {
		t.Errorf("ID = %v, want job-42", resp.ID)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if gotType != "crop" {
		t.Errorf("type = %v, want crop", gotType)
	}
	if gotFilename != "field.jpg" || gotImage != "fake-jpeg" {
		t.Errorf("image = (%q, %q), want (field.jpg, fake-jpeg)", gotFilename, gotImage)
	}
	if gotMeta.Location != "Nashik" || gotMeta.FarmerContext == nil || gotMeta.FarmerContext.State != "Maharashtra" {
		t.Errorf("metadata = %+v, want location and farmer context", gotMeta)
	}
}

func TestHTTPBackend_UploadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Image file is required"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewHTTPBackend(server.URL, time.Second).Upload(context.Background(), UploadRequest{
		Image: strings.NewReader("x"), Filename: "a.jpg", Type: AnalysisSoil,
	}, "")
	var sce *StatusCodeError
	if !errors.As(err, &sce) || sce.StatusCode != http.StatusBadRequest {
		t.Fatalf("Upload() error = %v, want 400 StatusCodeError", err)
	}
}

// analysisServer simulates the backend: each job reports processing for a
// fixed number of queries before completing.
type analysisServer struct {
	mu       sync.Mutex
	queries  map[string]int
	finishAt int
	uploads  atomic.Int32
}

func (s *analysisServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/analyze/upload":
		s.uploads.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job-e2e","status":"processing"}`))
	case strings.HasPrefix(r.URL.Path, "/api/analyze/result/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/analyze/result/")
		s.mu.Lock()
		s.queries[id]++
		n := s.queries[id]
		s.mu.Unlock()
		if n < s.finishAt {
			_ = json.NewEncoder(w).Encode(StatusResponse{ID: id, Status: "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(completed(id))
	default:
		http.NotFound(w, r)
	}
}

func TestResultPoller_HTTPEndToEnd(t *testing.T) {
	srv := &analysisServer{queries: make(map[string]int), finishAt: 3}
	server := httptest.NewServer(srv)
	defer server.Close()

	var (
		progressMu sync.Mutex
		progress   []int
	)
	rp, err := New(
		WithBaseURL(server.URL),
		WithLogger(testLogger()),
		WithInitialDelay(5*time.Millisecond),
		WithToken("tok"),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer rp.Close()

	if rp.Mock() {
		t.Fatal("Mock() = true for a real base URL")
	}

	image := strings.Repeat("x", 4096)
	result, err := rp.Analyze(context.Background(), UploadRequest{
		Image:    strings.NewReader(image),
		Filename: "soil.png",
		Size:     int64(len(image)),
		Progress: func(p int) {
			progressMu.Lock()
			progress = append(progress, p)
			progressMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if result.ID != "job-e2e" {
		t.Errorf("ID = %v, want job-e2e", result.ID)
	}
	if srv.uploads.Load() != 1 {
		t.Errorf("uploads = %v, want 1", srv.uploads.Load())
	}
	srv.mu.Lock()
	queries := srv.queries["job-e2e"]
	srv.mu.Unlock()
	if queries != 3 {
		t.Errorf("status queries = %v, want 3", queries)
	}

	progressMu.Lock()
	defer progressMu.Unlock()
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress = %v, want to end at 100", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Errorf("progress not increasing: %v", progress)
		}
	}
}

func TestResultPoller_HTTPServerErrorsAreTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rp, err := New(WithBaseURL(server.URL), WithLogger(testLogger()), WithInitialDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer rp.Close()

	_, err = rp.PollResult(context.Background(), "job-502", WithAttempts(3))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("PollResult() error = %v, want ErrTransient", err)
	}
	var sce *StatusCodeError
	if !errors.As(err, &sce) || sce.StatusCode != http.StatusBadGateway {
		t.Errorf("error should unwrap to the 502 response, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("requests = %v, want 3", calls.Load())
	}
}
