package saralmitti

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateMockResult_Ranges(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	validSoil := map[string]bool{"Loamy": true, "Clay": true, "Sandy": true, "Silt": true}

	for i := 0; i < 200; i++ {
		r := GenerateMockResult("mock-1", rng, now)

		if r.ID != "mock-1" || r.Status != JobStatusCompleted {
			t.Fatalf("result header = (%v, %v), want (mock-1, completed)", r.ID, r.Status)
		}
		if !r.Timestamp.Equal(now) {
			t.Errorf("Timestamp = %v, want %v", r.Timestamp, now)
		}
		if !validSoil[r.Soil.SoilType] {
			t.Errorf("SoilType = %q, not a known soil type", r.Soil.SoilType)
		}

		checks := []struct {
			name     string
			v, lo, hi float64
		}{
			{"pH", r.Soil.PH, 6.5, 8.0},
			{"nitrogen", r.Soil.Nitrogen, 0.8, 1.2},
			{"phosphorus", r.Soil.Phosphorus, 0.15, 0.30},
			{"potassium", r.Soil.Potassium, 0.3, 0.6},
			{"organicMatter", r.Soil.OrganicMatter, 2.5, 4.5},
			{"moisture", r.Soil.Moisture, 15, 30},
			{"healthScore", r.Soil.HealthScore, 70, 95},
			{"confidence", r.Soil.Confidence, 85, 97},
		}
		for _, c := range checks {
			if c.v < c.lo || c.v > c.hi {
				t.Errorf("%s = %v, want within [%v, %v]", c.name, c.v, c.lo, c.hi)
			}
		}

		if len(r.Crops) != 3 {
			t.Fatalf("len(Crops) = %v, want 3", len(r.Crops))
		}
		for j := 1; j < len(r.Crops); j++ {
			if r.Crops[j].Suitability > r.Crops[j-1].Suitability {
				t.Errorf("crops not sorted by suitability: %v before %v",
					r.Crops[j-1].Suitability, r.Crops[j].Suitability)
			}
		}
		for _, c := range r.Crops {
			if c.NameHindi == "" || c.GrowthPeriod == 0 || c.WaterNeeds == "" {
				t.Errorf("incomplete crop recommendation: %+v", c)
			}
		}
	}
}

func TestGenerateMockResult_Deterministic(t *testing.T) {
	now := time.Now()
	a := GenerateMockResult("x", rand.New(rand.NewPCG(42, 42)), now)
	b := GenerateMockResult("x", rand.New(rand.NewPCG(42, 42)), now)

	if a.Soil != b.Soil {
		t.Errorf("same seed gave different soil: %+v vs %+v", a.Soil, b.Soil)
	}
	for i := range a.Crops {
		if a.Crops[i] != b.Crops[i] {
			t.Errorf("same seed gave different crop %d: %+v vs %+v", i, a.Crops[i], b.Crops[i])
		}
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMockBackend_ProcessingThenCompleted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewMockBackend(withClock(clock.Now), WithRandSource(rand.NewPCG(7, 7)))
	ctx := context.Background()

	up, err := m.Upload(ctx, UploadRequest{Image: strings.NewReader("jpegbytes"), Filename: "a.jpg"}, "")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if up.ID != "mock-1700000000000" {
		t.Errorf("ID = %v, want mock-1700000000000", up.ID)
	}
	if up.Status != "processing" {
		t.Errorf("Status = %v, want processing", up.Status)
	}

	resp, _ := m.Status(ctx, up.ID, "")
	if resp.JobStatus() != JobStatusProcessing {
		t.Errorf("status right after upload = %v, want processing", resp.Status)
	}

	clock.Advance(2 * time.Second)
	resp, _ = m.Status(ctx, up.ID, "")
	if resp.JobStatus() != JobStatusProcessing {
		t.Errorf("status after 2s = %v, want processing", resp.Status)
	}

	clock.Advance(500 * time.Millisecond)
	first, _ := m.Status(ctx, up.ID, "")
	if first.JobStatus() != JobStatusCompleted {
		t.Fatalf("status after 2.5s = %v, want completed", first.Status)
	}

	clock.Advance(time.Minute)
	second, _ := m.Status(ctx, up.ID, "")
	if *first.Soil != *second.Soil {
		t.Errorf("repeated queries disagree: %+v vs %+v", first.Soil, second.Soil)
	}
}

func TestMockBackend_UniqueIDs(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewMockBackend(withClock(clock.Now))

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		up, err := m.Upload(context.Background(), UploadRequest{Image: strings.NewReader("x"), Filename: "a.jpg"}, "")
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if !IsMockID(up.ID) {
			t.Errorf("ID %q lacks mock prefix", up.ID)
		}
		if seen[up.ID] {
			t.Errorf("duplicate mock id %q", up.ID)
		}
		seen[up.ID] = true
	}
}

func TestMockBackend_ForgetsIdleJobs(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewMockBackend(withClock(clock.Now), WithRetention(time.Minute))
	ctx := context.Background()

	jobCount := func() int {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.jobs)
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Status(ctx, fmt.Sprintf("mock-idle-%d", i), ""); err != nil {
			t.Fatalf("Status() error = %v", err)
		}
	}
	active, _ := m.Status(ctx, "mock-active", "")
	if active.JobStatus() != JobStatusProcessing {
		t.Fatalf("status = %v, want processing", active.Status)
	}
	if got := jobCount(); got != 4 {
		t.Fatalf("tracked jobs = %d, want 4", got)
	}

	// keep one job busy while the rest go idle
	var first *StatusResponse
	for i := 0; i < 6; i++ {
		clock.Advance(30 * time.Second)
		resp, _ := m.Status(ctx, "mock-active", "")
		if first == nil {
			first = resp
		}
	}
	if got := jobCount(); got != 1 {
		t.Errorf("tracked jobs = %d, want 1", got)
	}

	last, _ := m.Status(ctx, "mock-active", "")
	if last.JobStatus() != JobStatusCompleted || *last.Soil != *first.Soil {
		t.Errorf("active job lost its result: %+v vs %+v", first.Soil, last.Soil)
	}

	// an idle id asked for again starts over
	again, _ := m.Status(ctx, "mock-idle-0", "")
	if again.JobStatus() != JobStatusProcessing {
		t.Errorf("forgotten job status = %v, want processing", again.Status)
	}
}

func TestMockBackend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMockBackend()
	if _, err := m.Status(ctx, "mock-1", ""); err == nil {
		t.Error("Status() expected error for cancelled context")
	}
	if _, err := m.Upload(ctx, UploadRequest{}, ""); err == nil {
		t.Error("Upload() expected error for cancelled context")
	}
}

func TestMockMode_EndToEnd(t *testing.T) {
	rp, err := New(WithMockMode(), WithLogger(testLogger()), WithInitialDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !rp.Mock() {
		t.Fatal("Mock() = false, want true")
	}
	rp.mock = NewMockBackend(WithProcessingTime(30 * time.Millisecond))
	rp.backend = rp.mock

	result, err := rp.Analyze(context.Background(), UploadRequest{
		Image:    strings.NewReader("img"),
		Filename: "soil.jpg",
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !IsMockID(result.ID) {
		t.Errorf("ID = %v, want mock id", result.ID)
	}
	if _, ok := result.TopCrop(); !ok {
		t.Error("TopCrop() found no recommendation")
	}
}
