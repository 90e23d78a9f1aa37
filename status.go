package saralmitti

// JobStatus represents the state of an analysis job as reported by the backend.
//
// JobStatus is a string type so that it serializes directly to and from the
// backend's JSON payloads. Values other than the three defined by the backend
// parse to [JobStatusUnknown].
type JobStatus string

const (
	// JobStatusProcessing indicates the analysis is still running.
	JobStatusProcessing JobStatus = "processing"

	// JobStatusCompleted indicates the analysis finished and the payload
	// carries the full result.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates the backend gave up on the job. The payload's
	// message field carries the reason.
	JobStatusFailed JobStatus = "failed"

	// JobStatusUnknown is used for any status value the backend should never send.
	JobStatusUnknown JobStatus = "unknown"
)

// ParseJobStatus converts a raw status string into a [JobStatus].
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s)
	default:
		return JobStatusUnknown
	}
}

// IsTerminal reports whether no further status changes are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// AnalysisType selects which analysis the backend runs on an uploaded image.
type AnalysisType string

const (
	// AnalysisSoil requests a soil analysis. This is the default.
	AnalysisSoil AnalysisType = "soil"

	// AnalysisCrop requests a crop analysis.
	AnalysisCrop AnalysisType = "crop"
)

// Valid reports whether t is one of the supported analysis types.
func (t AnalysisType) Valid() bool {
	return t == AnalysisSoil || t == AnalysisCrop
}
