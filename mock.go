package saralmitti

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// defaultMockProcessingTime is how long a mock job reports processing.
const defaultMockProcessingTime = 2500 * time.Millisecond

// defaultMockRetention is how long a mock job is kept after its last upload
// or query.
const defaultMockRetention = 10 * time.Minute

// MockBackend is an in-process [Backend] that fabricates plausible results.
//
// A job reports processing until the processing time has elapsed since it was
// first seen (uploaded or queried), then completed with a result from
// [GenerateMockResult]. The result is generated once per job so repeated
// queries agree. Jobs untouched for the retention period are forgotten; a
// later query for such an id starts it over. MockBackend is safe for
// concurrent use.
type MockBackend struct {
	processingTime time.Duration
	retention      time.Duration
	now            func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	jobs      map[string]*mockJob
	lastIDs   int64
	lastPrune time.Time
}

type mockJob struct {
	firstSeen time.Time
	lastSeen  time.Time
	result    *AnalysisResult
}

// MockOption configures a [MockBackend].
type MockOption func(*MockBackend)

// WithProcessingTime sets how long mock jobs stay in processing.
// Zero makes jobs complete on their first query.
func WithProcessingTime(d time.Duration) MockOption {
	return func(m *MockBackend) {
		if d >= 0 {
			m.processingTime = d
		}
	}
}

// WithRetention sets how long a job is kept after it was last uploaded or
// queried. Non-positive values are ignored.
func WithRetention(d time.Duration) MockOption {
	return func(m *MockBackend) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithRandSource seeds result generation, making results reproducible.
func WithRandSource(src rand.Source) MockOption {
	return func(m *MockBackend) {
		if src != nil {
			m.rng = rand.New(src)
		}
	}
}

// withClock replaces the clock. Tests only.
func withClock(now func() time.Time) MockOption {
	return func(m *MockBackend) {
		m.now = now
	}
}

// NewMockBackend creates a [MockBackend] with a 2.5 second processing time.
func NewMockBackend(opts ...MockOption) *MockBackend {
	m := &MockBackend{
		processingTime: defaultMockProcessingTime,
		retention:      defaultMockRetention,
		now:            time.Now,
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		jobs:           make(map[string]*mockJob),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upload drains the image and registers a new mock job.
func (m *MockBackend) Upload(ctx context.Context, req UploadRequest, _ string) (*UploadResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Image != nil {
		if _, err := io.Copy(io.Discard, req.Image); err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ms := now.UnixMilli()
	if ms <= m.lastIDs {
		ms = m.lastIDs + 1
	}
	m.lastIDs = ms

	m.prune(now)

	id := fmt.Sprintf("%s%d", mockIDPrefix, ms)
	m.jobs[id] = &mockJob{firstSeen: now, lastSeen: now}

	return &UploadResponse{
		ID:      id,
		Status:  string(JobStatusProcessing),
		Message: "Mock upload successful",
	}, nil
}

// Status reports processing until the job's processing time has passed.
// Unknown ids are registered on first query.
func (m *MockBackend) Status(ctx context.Context, jobID, _ string) (*StatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)

	job, ok := m.jobs[jobID]
	if !ok {
		job = &mockJob{firstSeen: now}
		m.jobs[jobID] = job
	}
	job.lastSeen = now

	if now.Sub(job.firstSeen) < m.processingTime {
		return &StatusResponse{ID: jobID, Status: string(JobStatusProcessing)}, nil
	}

	if job.result == nil {
		job.result = GenerateMockResult(jobID, m.rng, now)
	}
	r := job.result
	ts := r.Timestamp
	soil := r.Soil
	return &StatusResponse{
		ID:        jobID,
		Status:    string(JobStatusCompleted),
		Soil:      &soil,
		Crops:     append([]CropRecommendation(nil), r.Crops...),
		Timestamp: &ts,
	}, nil
}

// prune drops jobs idle for longer than the retention period. It scans at
// most once per period. Callers hold m.mu.
func (m *MockBackend) prune(now time.Time) {
	if now.Sub(m.lastPrune) < m.retention {
		return
	}
	m.lastPrune = now
	for id, job := range m.jobs {
		if now.Sub(job.lastSeen) > m.retention {
			delete(m.jobs, id)
		}
	}
}

var mockSoilTypes = []string{"Loamy", "Clay", "Sandy", "Silt"}

// mockCrop is a candidate crop with its suitability and yield ranges.
type mockCrop struct {
	name, nameHindi        string
	suitBase, suitSpread   float64
	yieldBase, yieldSpread float64
	growthPeriod           int
	water                  WaterNeeds
	icon                   string
}

var mockCrops = []mockCrop{
	{"Wheat", "गेहूं", 88, 10, 35, 10, 120, WaterMedium, "🌾"},
	{"Rice", "चावल", 75, 15, 40, 15, 150, WaterHigh, "🌾"},
	{"Lentils", "दाल", 70, 15, 15, 8, 95, WaterLow, "🫘"},
	{"Cotton", "कपास", 65, 15, 25, 10, 180, WaterMedium, "🌱"},
}

// mockTopCrops is how many crop recommendations a mock result carries.
const mockTopCrops = 3

// GenerateMockResult fabricates a completed analysis for id using rng.
//
// Soil properties are drawn uniformly from fixed ranges and four candidate
// crops are scored, sorted by suitability, and cut to the best three.
func GenerateMockResult(id string, rng *rand.Rand, now time.Time) *AnalysisResult {
	soil := SoilAnalysis{
		SoilType:      mockSoilTypes[rng.IntN(len(mockSoilTypes))],
		PH:            6.5 + rng.Float64()*1.5,
		Nitrogen:      0.8 + rng.Float64()*0.4,
		Phosphorus:    0.15 + rng.Float64()*0.15,
		Potassium:     0.3 + rng.Float64()*0.3,
		OrganicMatter: 2.5 + rng.Float64()*2,
		Moisture:      15 + rng.Float64()*15,
		HealthScore:   70 + rng.Float64()*25,
		Confidence:    85 + rng.Float64()*12,
	}

	crops := make([]CropRecommendation, 0, len(mockCrops))
	for _, c := range mockCrops {
		crops = append(crops, CropRecommendation{
			Name:          c.name,
			NameHindi:     c.nameHindi,
			Suitability:   c.suitBase + rng.Float64()*c.suitSpread,
			ExpectedYield: c.yieldBase + rng.Float64()*c.yieldSpread,
			GrowthPeriod:  c.growthPeriod,
			WaterNeeds:    c.water,
			Icon:          c.icon,
		})
	}
	sort.SliceStable(crops, func(i, j int) bool {
		return crops[i].Suitability > crops[j].Suitability
	})

	return &AnalysisResult{
		ID:        id,
		Status:    JobStatusCompleted,
		Soil:      soil,
		Crops:     crops[:mockTopCrops],
		Timestamp: now.UTC(),
	}
}
