package domain

import "time"

// RunRecord is one row of the run history, keyed by correlation ID.
type RunRecord struct {
	CorrelationID string
	RemoteJobID   string
	JobName       string
	StartDate     time.Time
	EndDate       time.Time
	State         string
	Progress      *float64
	ErrorMessage  string
	ArtifactPath  string
	RowCount      int64
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// IsFinal reports whether no further transitions are expected for the run.
func (r RunRecord) IsFinal() bool {
	switch r.State {
	case RunStateMaterialized, RunStateFailed, RunStateTimedOut, RunStateResubmitted:
		return true
	}
	return false
}

// ArtifactEvent announces a published artifact.
type ArtifactEvent struct {
	JobName       string    `json:"job_name"`
	Date          string    `json:"date,omitempty"`
	Path          string    `json:"path"`
	Rows          int64     `json:"rows"`
	CorrelationID string    `json:"correlation_id"`
	RemoteJobID   string    `json:"remote_job_id"`
	PublishedAt   time.Time `json:"published_at"`
}
