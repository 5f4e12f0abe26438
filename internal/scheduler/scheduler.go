// Package scheduler implements the Scheduler process: one loop that
// dispatches due jobs every pass and runs its slower sub-tasks (stale
// worker reaping, stuck-dispatch detection, dispatch GC) on an iteration
// modulus, grounded directly on the original's scheduler_loop.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/metrics"
	"github.com/triggerd/triggerd/internal/repository"
	"github.com/triggerd/triggerd/internal/schedule"
)

// Config holds the timing knobs the Scheduler reads from the environment.
type Config struct {
	PollInterval          time.Duration
	DispatchLockDuration  time.Duration
	JobTimeoutThreshold   time.Duration
	MaxRetryAttempts      int
	CleanupRetentionDays  int
	WorkerOfflineThreshold time.Duration
}

const (
	reapStaleWorkersEvery  = 10  // ~100s at the default 10s poll interval
	detectStuckJobsEvery   = 6   // ~60s
	cleanupOldDispatchEvery = 360 // ~1h
)

// Scheduler owns the one loop. It has no in-memory mutable state beyond
// the iteration counter; every decision is made against the store.
type Scheduler struct {
	jobs       repository.JobRepository
	dispatches repository.DispatchRepository
	workers    repository.WorkerRepository
	logs       repository.ExecutionLogRepository
	cfg        Config
	logger     *slog.Logger
}

func New(jobs repository.JobRepository, dispatches repository.DispatchRepository, workers repository.WorkerRepository, logs repository.ExecutionLogRepository, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		dispatches: dispatches,
		workers:    workers,
		logs:       logs,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is canceled, ticking once per PollInterval.
// Every sub-task failure is logged and the loop continues — the
// scheduler never aborts on a recoverable store error.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"lock_duration", s.cfg.DispatchLockDuration,
		"timeout_threshold", s.cfg.JobTimeoutThreshold,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			iteration++
			s.pass(ctx, iteration)
		}
	}
}

// RunPassForTest runs a single scheduler pass synchronously, bypassing
// the ticker loop — used by tests to exercise pass() deterministically.
func (s *Scheduler) RunPassForTest(ctx context.Context, iteration int) {
	s.pass(ctx, iteration)
}

func (s *Scheduler) pass(ctx context.Context, iteration int) {
	start := time.Now()
	defer func() { metrics.SchedulerPassDuration.Observe(time.Since(start).Seconds()) }()

	s.logger.Debug("scheduler loop iteration", "iteration", iteration)

	if err := s.dispatchDueJobs(ctx); err != nil {
		s.logger.Error("dispatch due jobs failed", "error", err)
	}

	if iteration%reapStaleWorkersEvery == 0 {
		if err := s.reapStaleWorkers(ctx); err != nil {
			s.logger.Error("reap stale workers failed", "error", err)
		}
	}

	if iteration%detectStuckJobsEvery == 0 {
		if err := s.detectStuckDispatches(ctx); err != nil {
			s.logger.Error("detect stuck dispatches failed", "error", err)
		}
	}

	if iteration%cleanupOldDispatchEvery == 0 {
		if err := s.cleanupOldDispatches(ctx); err != nil {
			s.logger.Error("cleanup old dispatches failed", "error", err)
		}
	}
}

func (s *Scheduler) dispatchDueJobs(ctx context.Context) error {
	now := time.Now().UTC()

	claimed, err := s.jobs.ClaimDue(ctx, now, s.cfg.DispatchLockDuration, 100, schedule.NextRun)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		s.logger.Debug("no due jobs found", "at", now)
		return nil
	}

	s.logger.Info("dispatched due jobs", "count", len(claimed))
	for _, c := range claimed {
		nextDesc := "none (manual job)"
		if c.Job.NextRun != nil {
			nextDesc = c.Job.NextRun.Format(time.RFC3339)
		}
		s.logger.Info("dispatched job",
			"job_id", c.Job.ID, "job_name", c.Job.Name,
			"dispatch_id", c.Dispatch.ID, "next_run", nextDesc,
		)
	}
	return nil
}

func (s *Scheduler) reapStaleWorkers(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.WorkerOfflineThreshold)
	n, err := s.workers.DeleteStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.SchedulerRescuedTotal.WithLabelValues("stale_worker").Add(float64(n))
		s.logger.Info("reaped stale workers", "count", n)
	}
	return nil
}

func (s *Scheduler) detectStuckDispatches(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.JobTimeoutThreshold)

	stuck, err := s.dispatches.MarkStuckAsTimedOut(ctx, cutoff, s.cfg.MaxRetryAttempts)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	metrics.SchedulerRescuedTotal.WithLabelValues("stuck_dispatch").Add(float64(len(stuck)))
	s.logger.Info("processed stuck job dispatches", "count", len(stuck))
	for _, d := range stuck {
		runTime := time.Now().UTC()
		if d.ClaimedAt != nil {
			runTime = *d.ClaimedAt
		}
		workerLabel := "unknown"
		if d.WorkerID != nil {
			workerLabel = *d.WorkerID
		}

		_, err := s.logs.Create(ctx, &domain.JobExecutionLog{
			JobID:     d.JobID,
			RunTime:   runTime,
			Status:    domain.ExecutionTimeout,
			LogOutput: "Job timed out after " + s.cfg.JobTimeoutThreshold.String() + ". Worker " + workerLabel + " went offline.",
		})
		if err != nil {
			s.logger.Error("write timeout execution log failed", "dispatch_id", d.ID, "error", err)
		}

		if d.RetryCount >= s.cfg.MaxRetryAttempts {
			s.logger.Warn("job exceeded max retry attempts", "job_id", d.JobID, "max_retries", s.cfg.MaxRetryAttempts)
		}
	}
	return nil
}

func (s *Scheduler) cleanupOldDispatches(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.CleanupRetentionDays)
	n, err := s.dispatches.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.DispatchesPurgedTotal.Add(float64(n))
		s.logger.Info("cleaned up old dispatch records", "count", n, "retention_days", s.cfg.CleanupRetentionDays)
	}
	return nil
}
