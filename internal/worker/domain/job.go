package domain

import (
	"time"

	"github.com/google/uuid"
)

// Granularity is the bin size of the exported readings.
type Granularity struct {
	Value int
	Unit  string
}

// TimeWindow is a time-of-day window, formatted HH:MM:SS.
type TimeWindow struct {
	Start string
	End   string
}

// ExportJobRequest describes one date-range export. Treat it as immutable:
// WithNewCorrelationID returns a copy for resubmission.
type ExportJobRequest struct {
	CorrelationID     string
	Name              string
	StartDate         time.Time // inclusive
	EndDate           time.Time // exclusive
	Times             TimeWindow
	DaysOfWeek        []int
	Granularity       Granularity
	Columns           []string
	QualityThresholds []int
	SegmentIDs        []string
	TravelTimeUnits   string
}

// AllDaysOfWeek is the default day-of-week mask.
var AllDaysOfWeek = []int{0, 1, 2, 3, 4, 5, 6}

// NewCorrelationID generates a job correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}

// WithNewCorrelationID returns a copy of r carrying a fresh correlation ID.
func (r ExportJobRequest) WithNewCorrelationID() ExportJobRequest {
	r.CorrelationID = NewCorrelationID()
	return r
}

// Validate checks the request before it is sent to the remote service.
func (r ExportJobRequest) Validate() error {
	if r.CorrelationID == "" {
		return invalidRequest("correlation id is required")
	}
	if _, err := uuid.Parse(r.CorrelationID); err != nil {
		return invalidRequest("correlation id must be a valid UUID")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return invalidRequest("start and end dates are required")
	}
	if !r.EndDate.After(r.StartDate) {
		return invalidRequest("end date must be after start date")
	}
	if len(r.SegmentIDs) == 0 {
		return invalidRequest("at least one segment id is required")
	}
	if r.Granularity.Value <= 0 {
		return invalidRequest("granularity value must be greater than 0")
	}
	return nil
}

// JobHandle identifies a submitted job.
type JobHandle struct {
	RemoteJobID   string
	CorrelationID string
	SubmittedAt   time.Time
}

// Status is one observation of a remote job.
type Status struct {
	State    JobState
	Progress *float64 // nil when the service did not report progress
}

// Artifact is a published columnar result file.
type Artifact struct {
	Path string
	Rows int64
}
