package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidJob     = errors.New("invalid job definition")
	ErrScriptNotFound = errors.New("script path does not exist under the scripts directory")
	ErrJobInactive    = errors.New("job is inactive")
)

// ScheduleType enumerates the recurrence kinds a ScheduledJob can follow.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleHourly   ScheduleType = "hourly"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
	ScheduleManual   ScheduleType = "manual"
)

// ScheduledJob is the user-declared trigger: what to run and when.
type ScheduledJob struct {
	ID         int64
	Name       string
	ScriptPath string
	ScriptArgs string // free-form argument string, tokenized at execution time

	ScheduleType    ScheduleType
	IntervalSeconds int     // used only when ScheduleType == ScheduleInterval
	ScheduleTime    string  // HH:MM, stored in UTC
	ScheduleDay     *int    // weekday 0-6 (weekly) or day-of-month 1-31 (monthly), stored in UTC

	IsActive bool

	NextRun           *time.Time
	LastDispatchedAt  *time.Time
	DispatchLockUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
