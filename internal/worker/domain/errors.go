package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest is returned when an export request fails validation
	ErrInvalidRequest = errors.New("invalid export request")

	// ErrNoWatermark is returned when the watermark file does not exist yet
	ErrNoWatermark = errors.New("watermark not found")

	// ErrWatermarkRegression is returned when advancing would move the watermark backwards
	ErrWatermarkRegression = errors.New("watermark cannot move backwards")

	// ErrEntryNotFound is returned when the result archive lacks the readings entry
	ErrEntryNotFound = errors.New("archive entry not found")

	// ErrMalformedResponse is returned when the remote service accepted a
	// request but its reply could not be understood
	ErrMalformedResponse = errors.New("malformed response")
)

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// SubmissionError is returned when the remote service rejected a job
// submission on every attempt.
type SubmissionError struct {
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job submission failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("job submission failed after %d attempt(s): status %d: %s", e.Attempts, e.StatusCode, e.Body)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// StatusError is returned for an unexpected status-check response.
type StatusError struct {
	RemoteJobID string
	StatusCode  int
	Body        string
	Err         error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to get status of job %s: %v", e.RemoteJobID, e.Err)
	}
	return fmt.Sprintf("failed to get status of job %s: status %d: %s", e.RemoteJobID, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// JobFailedError is returned when a job reached FAILED or KILLED and the
// resubmission budget is spent.
type JobFailedError struct {
	RemoteJobID string
	State       JobState
	Submissions int
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed with state %s after %d submission(s)", e.RemoteJobID, e.State, e.Submissions)
}

// JobTimeoutError is returned when a job did not reach a terminal state
// within its wall-clock budget.
type JobTimeoutError struct {
	RemoteJobID string
	Timeout     time.Duration
	LastState   JobState
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s (last state %s)", e.RemoteJobID, e.Timeout, e.LastState)
}

// DownloadError is returned when the result of a succeeded job could not be fetched.
type DownloadError struct {
	CorrelationID string
	StatusCode    int
	Body          string
	Err           error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to download results for %s: %v", e.CorrelationID, e.Err)
	}
	return fmt.Sprintf("failed to download results for %s: status %d: %s", e.CorrelationID, e.StatusCode, e.Body)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// MaterializeError is returned when a downloaded result could not be
// converted into a columnar file.
type MaterializeError struct {
	OutputName string
	Err        error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("failed to materialize %s: %v", e.OutputName, e.Err)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}
