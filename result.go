package saralmitti

import (
	"time"
)

// WaterNeeds describes how much irrigation a recommended crop requires.
type WaterNeeds string

const (
	WaterLow    WaterNeeds = "low"
	WaterMedium WaterNeeds = "medium"
	WaterHigh   WaterNeeds = "high"
)

// SoilAnalysis holds the measured soil properties of a completed analysis.
//
// Percentages are expressed as plain numbers (0.8 means 0.8%). HealthScore
// and Confidence are on a 0-100 scale.
type SoilAnalysis struct {
	SoilType      string  `json:"soilType"`
	PH            float64 `json:"pH"`
	Nitrogen      float64 `json:"nitrogen"`
	Phosphorus    float64 `json:"phosphorus"`
	Potassium     float64 `json:"potassium"`
	OrganicMatter float64 `json:"organicMatter"`
	Moisture      float64 `json:"moisture"`
	HealthScore   float64 `json:"healthScore"`
	Confidence    float64 `json:"confidence"`
}

// CropRecommendation is a single crop suggested for the analysed soil.
type CropRecommendation struct {
	Name string `json:"name"`

	// NameHindi is the localised crop name shown to farmers.
	NameHindi string `json:"nameHindi"`

	// Suitability is a 0-100 score; recommendations are ordered by it.
	Suitability float64 `json:"suitability"`

	// ExpectedYield is in quintals per hectare.
	ExpectedYield float64 `json:"expectedYield"`

	// GrowthPeriod is the number of days from sowing to harvest.
	GrowthPeriod int `json:"growthPeriod"`

	WaterNeeds WaterNeeds `json:"waterNeeds"`
	Icon       string     `json:"icon,omitempty"`
}

// AnalysisResult is the final payload of a completed analysis job.
//
// An AnalysisResult is immutable once received and is owned by the caller.
type AnalysisResult struct {
	ID        string               `json:"id"`
	Status    JobStatus            `json:"status"`
	Soil      SoilAnalysis         `json:"soil"`
	Crops     []CropRecommendation `json:"crops"`
	Timestamp time.Time            `json:"timestamp"`
}

// TopCrop returns the most suitable recommended crop, or false when the
// result carries no recommendations.
func (r *AnalysisResult) TopCrop() (CropRecommendation, bool) {
	if r == nil || len(r.Crops) == 0 {
		return CropRecommendation{}, false
	}
	best := r.Crops[0]
	for _, c := range r.Crops[1:] {
		if c.Suitability > best.Suitability {
			best = c
		}
	}
	return best, true
}

// StatusResponse is the payload returned by a single status query.
//
// While the job is processing only ID and Status are set. A failed job may
// carry a Message. A completed job carries the full result fields.
type StatusResponse struct {
	ID        string               `json:"id"`
	Status    string               `json:"status"`
	Message   string               `json:"message,omitempty"`
	Soil      *SoilAnalysis        `json:"soil,omitempty"`
	Crops     []CropRecommendation `json:"crops,omitempty"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
}

// JobStatus returns the parsed status of the response.
func (r *StatusResponse) JobStatus() JobStatus {
	return ParseJobStatus(r.Status)
}

// Result converts a completed response into an [AnalysisResult].
//
// jobID is used when the backend omits the id field. Slices are copied so the
// result does not alias the response.
func (r *StatusResponse) Result(jobID string) *AnalysisResult {
	res := &AnalysisResult{
		ID:     r.ID,
		Status: JobStatusCompleted,
	}
	if res.ID == "" {
		res.ID = jobID
	}
	if r.Soil != nil {
		res.Soil = *r.Soil
	}
	if len(r.Crops) > 0 {
		res.Crops = append([]CropRecommendation(nil), r.Crops...)
	}
	if r.Timestamp != nil {
		res.Timestamp = *r.Timestamp
	}
	return res
}

// UploadResponse is returned by the backend once an image has been accepted.
type UploadResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
