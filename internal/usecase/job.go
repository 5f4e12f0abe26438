// Package usecase implements the Control Plane operations spec.md §4.5
// names, each a thin, validated wrapper over the repository interfaces —
// grounded on the teacher's internal/usecase/schedule.go shape
// (constructor-injected repos, typed Input/Result structs).
package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/triggerd/triggerd/internal/clock"
	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/repository"
	"github.com/triggerd/triggerd/internal/schedule"
)

// JobUsecase implements ListJobs, CreateJob, ToggleActive, RunNow,
// DeleteJob, ListLogs, and WorkerStatus.
type JobUsecase struct {
	jobs    repository.JobRepository
	workers repository.WorkerRepository
	logs    repository.ExecutionLogRepository

	scriptsDir       string
	displayLocation  *time.Location
	offlineThreshold time.Duration
}

func NewJobUsecase(
	jobs repository.JobRepository,
	workers repository.WorkerRepository,
	logs repository.ExecutionLogRepository,
	scriptsDir string,
	displayLocation *time.Location,
	offlineThreshold time.Duration,
) *JobUsecase {
	return &JobUsecase{
		jobs:             jobs,
		workers:          workers,
		logs:             logs,
		scriptsDir:       scriptsDir,
		displayLocation:  displayLocation,
		offlineThreshold: offlineThreshold,
	}
}

// JobView decorates a ScheduledJob with its human-readable recurrence,
// the shape ListJobs returns to the UI.
type JobView struct {
	*domain.ScheduledJob
	Recurrence string
}

// ListJobs returns every job, optionally filtered by a case-insensitive
// substring match on name, ordered by id ascending.
func (u *JobUsecase) ListJobs(ctx context.Context, search string) ([]JobView, error) {
	jobs, err := u.jobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		if needle != "" && !strings.Contains(strings.ToLower(j.Name), needle) {
			continue
		}
		views = append(views, JobView{ScheduledJob: j, Recurrence: schedule.Describe(j, u.displayLocation)})
	}
	return views, nil
}

// CreateJobInput carries the raw, as-submitted fields for a new job.
type CreateJobInput struct {
	Name            string
	ScriptPath      string
	ScriptArgs      string
	ScheduleType    domain.ScheduleType
	IntervalSeconds int
	ScheduleTime    string // HH:MM in the display timezone
	ScheduleDay     *int   // weekday (weekly) or day-of-month (monthly), in the display timezone
}

// CreateJob validates the input, converts any wall-clock schedule fields
// from the display timezone to UTC storage, and inserts the job active
// with next_run primed for the first scheduler pass.
func (u *JobUsecase) CreateJob(ctx context.Context, in CreateJobInput) (*domain.ScheduledJob, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidJob)
	}

	resolved, err := resolveScriptPath(u.scriptsDir, in.ScriptPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(resolved); statErr != nil {
		return nil, domain.ErrScriptNotFound
	}

	displayTime, displayDay, err := validateScheduleFields(in)
	if err != nil {
		return nil, err
	}
	storageTime, storageDay, err := clock.ToStorage(u.displayLocation, in.ScheduleType, displayTime, displayDay)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}

	now := time.Now().UTC()
	job := &domain.ScheduledJob{
		Name:            name,
		ScriptPath:      in.ScriptPath,
		ScriptArgs:      in.ScriptArgs,
		ScheduleType:    in.ScheduleType,
		IntervalSeconds: in.IntervalSeconds,
		ScheduleTime:    storageTime,
		ScheduleDay:     storageDay,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if in.ScheduleType == domain.ScheduleManual {
		job.NextRun = nil
	} else {
		job.NextRun = &now
	}

	created, err := u.jobs.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return created, nil
}

func resolveScriptPath(scriptsDir, scriptPath string) (string, error) {
	if filepath.IsAbs(scriptPath) {
		return "", fmt.Errorf("%w: script_path must be relative to the scripts directory", domain.ErrInvalidJob)
	}
	resolved := filepath.Join(scriptsDir, scriptPath)
	rel, err := filepath.Rel(scriptsDir, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: script_path escapes the scripts directory", domain.ErrInvalidJob)
	}
	return resolved, nil
}

// validateScheduleFields checks presence/shape of schedule_time and
// schedule_day per schedule_type and returns them unchanged — they are
// still in the display timezone at this point.
func validateScheduleFields(in CreateJobInput) (string, *int, error) {
	switch in.ScheduleType {
	case domain.ScheduleInterval:
		if in.IntervalSeconds <= 0 {
			return "", nil, fmt.Errorf("%w: interval_seconds must be positive", domain.ErrInvalidJob)
		}
		return "", nil, nil

	case domain.ScheduleManual:
		return "", nil, nil

	case domain.ScheduleHourly:
		if !validHHMM(in.ScheduleTime) {
			return "", nil, fmt.Errorf("%w: schedule_time must be HH:MM", domain.ErrInvalidJob)
		}
		return in.ScheduleTime, nil, nil

	case domain.ScheduleDaily:
		if !validHHMM(in.ScheduleTime) {
			return "", nil, fmt.Errorf("%w: schedule_time must be HH:MM", domain.ErrInvalidJob)
		}
		return in.ScheduleTime, nil, nil

	case domain.ScheduleWeekly:
		if !validHHMM(in.ScheduleTime) {
			return "", nil, fmt.Errorf("%w: schedule_time must be HH:MM", domain.ErrInvalidJob)
		}
		if in.ScheduleDay == nil || *in.ScheduleDay < 0 || *in.ScheduleDay > 6 {
			return "", nil, fmt.Errorf("%w: schedule_day must be 0-6 for weekly schedules", domain.ErrInvalidJob)
		}
		return in.ScheduleTime, in.ScheduleDay, nil

	case domain.ScheduleMonthly:
		if !validHHMM(in.ScheduleTime) {
			return "", nil, fmt.Errorf("%w: schedule_time must be HH:MM", domain.ErrInvalidJob)
		}
		if in.ScheduleDay == nil || *in.ScheduleDay < 1 || *in.ScheduleDay > 31 {
			return "", nil, fmt.Errorf("%w: schedule_day must be 1-31 for monthly schedules", domain.ErrInvalidJob)
		}
		return in.ScheduleTime, in.ScheduleDay, nil

	default:
		return "", nil, fmt.Errorf("%w: unrecognized schedule_type %q", domain.ErrInvalidJob, in.ScheduleType)
	}
}

func validHHMM(s string) bool {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	return err1 == nil && err2 == nil && h >= 0 && h <= 23 && m >= 0 && m <= 59
}

// ToggleActive flips is_active; reactivating resets next_run to now so the
// job is immediately eligible on the scheduler's next pass.
func (u *JobUsecase) ToggleActive(ctx context.Context, jobID int64) (*domain.ScheduledJob, error) {
	job, err := u.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.IsActive = !job.IsActive
	if job.IsActive {
		now := time.Now().UTC()
		job.NextRun = &now
	}
	job.UpdatedAt = time.Now().UTC()

	updated, err := u.jobs.Update(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("toggle active: %w", err)
	}
	return updated, nil
}

// RunNow sets next_run to now so the next scheduler pass picks the job
// up regardless of its configured recurrence. It refuses inactive jobs.
func (u *JobUsecase) RunNow(ctx context.Context, jobID int64) error {
	job, err := u.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if !job.IsActive {
		return domain.ErrJobInactive
	}

	now := time.Now().UTC()
	job.NextRun = &now
	job.UpdatedAt = now

	if _, err := u.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("run now: %w", err)
	}
	return nil
}

// DeleteJob removes the job and its execution logs in one transaction —
// implemented inside JobRepository.Delete per backend.
func (u *JobUsecase) DeleteJob(ctx context.Context, jobID int64) error {
	if err := u.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// ListLogs returns the job's most recent executions, newest first.
func (u *JobUsecase) ListLogs(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	logs, err := u.logs.ListByJobID(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

// WorkerStatusResult is WorkerStatus's summary: live worker count plus the
// "primary" worker — the live worker that has processed the most jobs.
type WorkerStatusResult struct {
	Workers      []*domain.WorkerRegistration
	LiveCount    int
	PrimaryIndex int // -1 if no live worker
}

// WorkerStatus enumerates worker registrations, filters out those beyond
// the offline threshold, and identifies the primary for display.
func (u *JobUsecase) WorkerStatus(ctx context.Context) (WorkerStatusResult, error) {
	all, err := u.workers.List(ctx)
	if err != nil {
		return WorkerStatusResult{}, fmt.Errorf("list workers: %w", err)
	}

	now := time.Now().UTC()
	var live []*domain.WorkerRegistration
	for _, w := range all {
		if w.IsLive(now, u.offlineThreshold) {
			live = append(live, w)
		}
	}

	primaryIdx := -1
	for i, w := range live {
		if primaryIdx == -1 || w.JobsProcessed > live[primaryIdx].JobsProcessed {
			primaryIdx = i
		}
	}

	return WorkerStatusResult{Workers: live, LiveCount: len(live), PrimaryIndex: primaryIdx}, nil
}
