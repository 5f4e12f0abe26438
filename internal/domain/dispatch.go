package domain

import (
	"errors"
	"time"
)

var ErrDispatchNotFound = errors.New("dispatch not found")

// DispatchStatus is the lifecycle state of a single attempt to run a job.
type DispatchStatus string

const (
	DispatchPending     DispatchStatus = "PENDING"
	DispatchInProgress  DispatchStatus = "IN_PROGRESS"
	DispatchCompleted   DispatchStatus = "COMPLETED"
	DispatchFailed      DispatchStatus = "FAILED"
	DispatchTimedOut    DispatchStatus = "TIMEOUT"
)

// IsTerminal reports whether the status is one the dispatch cannot leave.
func (s DispatchStatus) IsTerminal() bool {
	switch s {
	case DispatchCompleted, DispatchFailed, DispatchTimedOut:
		return true
	default:
		return false
	}
}

// JobDispatch is one row per attempt to run a ScheduledJob.
type JobDispatch struct {
	ID           int64
	JobID        int64
	CreatedAt    time.Time
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
	Status       DispatchStatus
	WorkerID     *string
	RetryCount   int
	ErrorMessage *string
}

// TruncateError clamps an error message to the 500-character storage limit.
func TruncateError(msg string) string {
	const maxLen = 500
	if len(msg) <= maxLen {
		return msg
	}
	return msg[:maxLen]
}
