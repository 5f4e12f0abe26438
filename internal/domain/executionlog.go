package domain

import "time"

// ExecutionStatus is the terminal (or running) outcome recorded for a job run.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
	ExecutionError   ExecutionStatus = "ERROR"
	ExecutionTimeout ExecutionStatus = "TIMEOUT"
	ExecutionRunning ExecutionStatus = "RUNNING"
)

// JobExecutionLog is the append-only execution history visible to the UI.
type JobExecutionLog struct {
	ID        int64
	JobID     int64
	RunTime   time.Time
	Status    ExecutionStatus
	LogOutput string
}
