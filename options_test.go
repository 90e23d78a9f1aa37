package saralmitti

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	rp, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if rp.MaxAttempts() != 30 {
		t.Errorf("MaxAttempts() = %v, want %v", rp.MaxAttempts(), 30)
	}
	if rp.InitialDelay() != time.Second {
		t.Errorf("InitialDelay() = %v, want %v", rp.InitialDelay(), time.Second)
	}
	if rp.maxConcurrency != 4 {
		t.Errorf("maxConcurrency = %v, want %v", rp.maxConcurrency, 4)
	}
	if rp.backoff != DefaultBackoff {
		t.Errorf("backoff = %+v, want %+v", rp.backoff, DefaultBackoff)
	}
	if rp.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if !rp.Mock() {
		t.Error("Mock() = false, want true without a base URL")
	}
}

func TestNew_BackendSelection(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		wantMock bool
	}{
		{"no base url", nil, true},
		{"example.com", []Option{WithBaseURL("https://example.com")}, true},
		{"example.com subdomain", []Option{WithBaseURL("https://api.example.com/v1")}, true},
		{"real url", []Option{WithBaseURL("https://api.saralmitti.in")}, false},
		{"localhost", []Option{WithBaseURL("http://localhost:8000")}, false},
		{"explicit mock", []Option{WithBaseURL("https://api.saralmitti.in"), WithMockMode()}, true},
		{"custom backend wins", []Option{WithMockMode(), WithBackend(NewMockBackend())}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, err := New(append(tt.opts, WithLogger(testLogger()))...)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer rp.Close()
			if rp.Mock() != tt.wantMock {
				t.Errorf("Mock() = %v, want %v", rp.Mock(), tt.wantMock)
			}
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{"bad scheme", WithBaseURL("ftp://files.saralmitti.in"), "scheme"},
		{"no host", WithBaseURL("http://"), "host"},
		{"nil backend", WithBackend(nil), "backend"},
		{"zero attempts", WithMaxAttempts(0), "max attempts"},
		{"negative delay", WithInitialDelay(-time.Second), "initial delay"},
		{"zero concurrency", WithMaxConcurrency(0), "concurrency"},
		{"nil logger", WithLogger(nil), "logger"},
		{"zero request timeout", WithRequestTimeout(0), "request timeout"},
		{"bad backoff", WithBackoff(BackoffPolicy{Factor: 0.5, MaxDelay: time.Second}), "factor"},
		{"delay above cap", WithInitialDelay(10 * time.Second), "exceeds max delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestNew_CustomSettings(t *testing.T) {
	rp, err := New(
		WithMaxAttempts(5),
		WithInitialDelay(500*time.Millisecond),
		WithMaxConcurrency(8),
		WithBackoff(BackoffPolicy{Threshold: 2 * time.Second, Factor: 2, MaxDelay: 3 * time.Second}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if rp.MaxAttempts() != 5 {
		t.Errorf("MaxAttempts() = %v, want 5", rp.MaxAttempts())
	}
	if rp.InitialDelay() != 500*time.Millisecond {
		t.Errorf("InitialDelay() = %v, want 500ms", rp.InitialDelay())
	}
	if rp.maxConcurrency != 8 {
		t.Errorf("maxConcurrency = %v, want 8", rp.maxConcurrency)
	}
	if rp.backoff.MaxDelay != 3*time.Second {
		t.Errorf("backoff.MaxDelay = %v, want 3s", rp.backoff.MaxDelay)
	}
}

func TestWithLogger_UsedForPolling(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backend := newScriptedBackend(func(id string, call int) (*StatusResponse, error) {
		return completed(id), nil
	})
	rp, err := New(WithBackend(backend), WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := rp.PollResult(context.Background(), "job-log"); err != nil {
		t.Fatalf("PollResult() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"analysis completed", "job_id=job-log", "to=completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q\nGot: %s", want, out)
		}
	}
}

func TestIsMockURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"https://example.com", true},
		{"https://EXAMPLE.com/api", true},
		{"https://staging.example.com", true},
		{"https://notexample.com", false},
		{"https://api.saralmitti.in", false},
		{"http://127.0.0.1:8000", false},
	}
	for _, tt := range tests {
		if got := IsMockURL(tt.url); got != tt.want {
			t.Errorf("IsMockURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in       string
		want     JobStatus
		terminal bool
	}{
		{"processing", JobStatusProcessing, false},
		{"completed", JobStatusCompleted, true},
		{"failed", JobStatusFailed, true},
		{"COMPLETED", JobStatusUnknown, false},
		{"", JobStatusUnknown, false},
	}
	for _, tt := range tests {
		got := ParseJobStatus(tt.in)
		if got != tt.want {
			t.Errorf("ParseJobStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.IsTerminal() != tt.terminal {
			t.Errorf("%v.IsTerminal() = %v, want %v", got, got.IsTerminal(), tt.terminal)
		}
	}
}
