package domain

import (
	"errors"

	workerdomain "github.com/cuongbtq/traffic-export/internal/worker/domain"
)

var (
	ErrRunNotFound = errors.New("run not found")
)

// RunStates lists the states a run can be filtered by.
var RunStates = []string{
	workerdomain.RunStateCreated,
	workerdomain.RunStateSubmitted,
	workerdomain.RunStatePolling,
	workerdomain.RunStateRateLimited,
	workerdomain.RunStateSucceeded,
	workerdomain.RunStateFailed,
	workerdomain.RunStateResubmitted,
	workerdomain.RunStateTimedOut,
	workerdomain.RunStateMaterialized,
}

// IsValidRunState reports whether s is a known run state.
func IsValidRunState(s string) bool {
	for _, state := range RunStates {
		if s == state {
			return true
		}
	}
	return false
}
