package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/saralmitti"
	"github.com/jpalmerr/saralmitti/config"
	"github.com/jpalmerr/saralmitti/internal/metrics"
	"github.com/jpalmerr/saralmitti/internal/server"
	"github.com/jpalmerr/saralmitti/internal/store"
)

// executeCmd runs the root command with args and returns captured stdout,
// stderr and any error.
func executeCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)

	return stdout.String(), stderr.String(), err
}

// writeFile writes content into a temp file and returns its path.
func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// startServer runs an analysis backend and returns a config file pointing
// at it.
func startServer(t *testing.T) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(server.Config{
		ProcessingTime: 30 * time.Millisecond,
		AuthToken:      "farm-token",
	}, store.NewMemoryStore(), metrics.New(prometheus.NewRegistry()), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	cfg := fmt.Sprintf(`
base_url: %s
credential: farm-token
poll:
  max_attempts: 50
  initial_delay: 10ms
`, ts.URL)
	return writeFile(t, "config.yaml", []byte(cfg))
}

func pngFile(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.RGBA{R: 110, G: 70, B: 30, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return writeFile(t, "field.png", buf.Bytes())
}

func TestVersion(t *testing.T) {
	out, _, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "saralmitti dev") {
		t.Errorf("output = %q, want version line", out)
	}
}

func TestAnalyze_AgainstServer(t *testing.T) {
	cfgPath := startServer(t)

	out, errOut, err := executeCmd(t, "analyze", pngFile(t), "-c", cfgPath, "--location", "Nashik", "--season", "kharif")
	if err != nil {
		t.Fatalf("analyze error = %v\nstderr: %s", err, errOut)
	}

	for _, want := range []string{"Soil type:", "pH:", "Recommended crops:", "  1. "} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\ngot: %s", want, out)
		}
	}
	if !strings.Contains(errOut, "uploaded, job id") {
		t.Errorf("stderr missing upload confirmation\ngot: %s", errOut)
	}
	if !strings.Contains(errOut, "uploading... 100%") {
		t.Errorf("stderr missing upload progress\ngot: %s", errOut)
	}
}

func TestAnalyze_Field(t *testing.T) {
	cfgPath := startServer(t)

	out, _, err := executeCmd(t, "analyze", pngFile(t), "-c", cfgPath, "--field", "crops.0.name")
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}

	name := strings.TrimSpace(out)
	switch name {
	case "Wheat", "Rice", "Lentils", "Cotton":
	default:
		t.Errorf("--field crops.0.name = %q, want a crop name", name)
	}
}

func TestAnalyze_JSON(t *testing.T) {
	cfgPath := startServer(t)

	out, errOut, err := executeCmd(t, "analyze", pngFile(t), "-c", cfgPath, "--json")
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}
	if !strings.Contains(out, `"status": "completed"`) {
		t.Errorf("output is not the JSON result\ngot: %s", out)
	}
	if strings.Contains(errOut, "uploading") {
		t.Errorf("--json should not report progress, stderr: %s", errOut)
	}
}

func TestAnalyze_CorruptImage(t *testing.T) {
	cfgPath := startServer(t)
	path := writeFile(t, "blurry.jpg", []byte("definitely not a jpeg"))

	_, _, err := executeCmd(t, "analyze", path, "-c", cfgPath, "-q")
	if err == nil {
		t.Fatal("expected error for corrupt image")
	}
	if err.Error() != "analysis failed: corrupt image" {
		t.Errorf("error = %q, want %q", err.Error(), "analysis failed: corrupt image")
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	_, _, err := executeCmd(t, "analyze", filepath.Join(t.TempDir(), "nope.jpg"))
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if !strings.Contains(err.Error(), "failed to open image") {
		t.Errorf("error = %q, want open failure", err.Error())
	}
}

func TestAnalyze_InvalidType(t *testing.T) {
	_, _, err := executeCmd(t, "analyze", pngFile(t), "--type", "leaf")
	if err == nil {
		t.Fatal("expected error for invalid analysis type")
	}
}

func TestPoll_MockTimeout(t *testing.T) {
	_, errOut, err := executeCmd(t, "poll", "mock-1", "--attempts", "3", "--delay", "10ms")
	if err == nil {
		t.Fatal("expected timeout")
	}
	if err.Error() != "analysis timed out, please try again later" {
		t.Errorf("error = %q", err.Error())
	}
	if !strings.Contains(errOut, "[mock-1] attempt 1/3: processing, next check in 10ms") {
		t.Errorf("stderr missing progress line\ngot: %s", errOut)
	}
	if !strings.Contains(errOut, "[mock-1] attempt 3/3: processing\n") {
		t.Errorf("stderr missing final attempt\ngot: %s", errOut)
	}
}

func TestPoll_UnknownJob(t *testing.T) {
	cfgPath := startServer(t)

	_, _, err := executeCmd(t, "poll", "no-such-job", "-c", cfgPath, "--attempts", "2", "-q")
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	if err.Error() != "network error, please retry" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestPoll_WrongToken(t *testing.T) {
	cfgPath := startServer(t)

	_, _, err := executeCmd(t, "poll", "job-1", "-c", cfgPath, "--attempts", "1", "--token", "wrong", "-q")
	if err == nil {
		t.Fatal("expected error with wrong token")
	}
	if err.Error() != "network error, please retry" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestPoll_ManyJSON(t *testing.T) {
	out, _, err := executeCmd(t, "poll", "mock-a", "mock-b", "mock-a", "--attempts", "2", "--delay", "10ms", "--json")
	if err == nil {
		t.Fatal("expected error when jobs time out")
	}
	if err.Error() != "2 of 2 jobs did not complete" {
		t.Errorf("error = %q", err.Error())
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2\n%s", len(lines), out)
	}
	for _, line := range lines {
		if !strings.Contains(line, `"error":"analysis timed out, please try again later"`) {
			t.Errorf("line = %s, want timeout error", line)
		}
	}
}

func TestPoll_RequiresJobID(t *testing.T) {
	_, _, err := executeCmd(t, "poll")
	if err == nil {
		t.Fatal("expected error without job id")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "timeout",
			err:  &saralmitti.TimeoutError{JobID: "j", Attempts: 30},
			want: "analysis timed out, please try again later",
		},
		{
			name: "job failed",
			err:  &saralmitti.JobFailedError{JobID: "j", Message: "image too blurry"},
			want: "analysis failed: image too blurry",
		},
		{
			name: "transient",
			err:  &saralmitti.TransientError{JobID: "j", Attempts: 30, Err: saralmitti.ErrBackendUnreachable},
			want: "network error, please retry",
		},
		{
			name: "cancelled",
			err:  context.Canceled,
			want: "cancelled",
		},
		{
			name: "wrapped cancel",
			err:  fmt.Errorf("upload: %w", context.Canceled),
			want: "cancelled",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userMessage(tt.err); got != tt.want {
				t.Errorf("userMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUploadProgress(t *testing.T) {
	var buf bytes.Buffer
	report := uploadProgress(&buf)
	for _, pct := range []int{3, 10, 26, 27, 60, 99, 100} {
		report(pct)
	}

	want := "uploading... 26%\nuploading... 60%\nuploading... 99%\nuploading... 100%\n"
	if buf.String() != want {
		t.Errorf("progress output = %q, want %q", buf.String(), want)
	}
}

func TestAnalyzeFlags_Metadata(t *testing.T) {
	var f analyzeFlags
	if f.metadata() != nil {
		t.Error("metadata() should be nil without flags")
	}

	f.location = "Nashik"
	f.season = "rabi"
	meta := f.metadata()
	if meta == nil {
		t.Fatal("metadata() = nil")
	}
	if meta.Location != "Nashik" {
		t.Errorf("Location = %q", meta.Location)
	}
	if meta.FarmerContext == nil || meta.FarmerContext.Season != "rabi" {
		t.Errorf("FarmerContext = %+v, want season rabi", meta.FarmerContext)
	}
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := openStore(context.Background(), config.ServerConfig{Store: config.StoreMemory}, logger)
	if err != nil {
		t.Fatalf("openStore(memory) error = %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("memory store Ping() = %v", err)
	}
	_ = st.Close()

	if _, err := openStore(context.Background(), config.ServerConfig{Store: "postgres"}, logger); err == nil {
		t.Error("openStore(postgres) should fail")
	}
	if _, err := openStore(context.Background(), config.ServerConfig{Store: config.StoreRedis}, logger); err == nil {
		t.Error("openStore(redis) without url should fail")
	}
}
