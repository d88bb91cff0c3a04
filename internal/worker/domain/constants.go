package domain

// JobState is a state reported by the remote export service, plus the
// client-side RATE_LIMITED marker.
type JobState string

// Remote job states
const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateKilled    JobState = "KILLED"

	// JobStateRateLimited is never reported by the remote service. The
	// client synthesizes it when a status check answers HTTP 429.
	JobStateRateLimited JobState = "RATE_LIMITED"
)

// Lifecycle states recorded in the run history. They extend the remote
// states with the client-side transitions of a single job.
const (
	RunStateCreated      = "CREATED"
	RunStateSubmitted    = "SUBMITTED"
	RunStatePolling      = "POLLING"
	RunStateRateLimited  = "RATE_LIMITED"
	RunStateSucceeded    = "SUCCEEDED"
	RunStateFailed       = "FAILED"
	RunStateResubmitted  = "RESUBMITTED"
	RunStateTimedOut     = "TIMED_OUT"
	RunStateMaterialized = "MATERIALIZED"
)

// IsTerminalFailure reports whether the job ended without a result.
func (s JobState) IsTerminalFailure() bool {
	return s == JobStateFailed || s == JobStateKilled
}

// IsTerminal reports whether the remote job will not change state again.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s.IsTerminalFailure()
}

// Date formats shared by the watermark file, the request body and artifact names.
const (
	DateFormat      = "2006-01-02"
	WatermarkFormat = "2006-01-02 15:04:05"
	TimeOfDayFormat = "15:04:05"
)

// ReadingsEntry is the CSV entry inside every result archive.
const ReadingsEntry = "Readings.csv"
