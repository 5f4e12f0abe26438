// Package worker implements the Worker process: it registers itself,
// polls for PENDING dispatches, executes the associated script, reports
// the outcome, and heartbeats on its own independent loop — grounded
// directly on original_source/services/worker_service.py's
// register_worker/update_heartbeat/claim_job/job_polling_loop/
// heartbeat_task/cleanup_worker split into two goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/metrics"
	"github.com/triggerd/triggerd/internal/repository"
)

// Config holds the timing knobs the Worker reads from the environment.
type Config struct {
	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	HeartbeatInterval time.Duration
	JobTimeout        time.Duration
	ScriptsDir        string
}

// Worker owns one process's registration, poll loop, and heartbeat loop.
type Worker struct {
	id         string
	hostname   string
	platform   string
	startedAt  time.Time
	processID  int

	jobs       repository.JobRepository
	dispatches repository.DispatchRepository
	workers    repository.WorkerRepository
	logs       repository.ExecutionLogRepository
	executor   *Executor

	cfg    Config
	logger *slog.Logger

	jobsProcessed int64
}

// New builds a Worker with a freshly generated worker ID.
func New(jobs repository.JobRepository, dispatches repository.DispatchRepository, workers repository.WorkerRepository, logs repository.ExecutionLogRepository, cfg Config, logger *slog.Logger) *Worker {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	platform := "unknown"
	if info, err := host.Info(); err == nil {
		platform = info.Platform
		if platform == "" {
			platform = info.OS
		}
	}

	id := fmt.Sprintf("worker-%s", uuid.New().String()[:8])

	return &Worker{
		id:        id,
		hostname:  hostname,
		platform:  platform,
		startedAt: time.Now().UTC(),
		processID: os.Getpid(),

		jobs:       jobs,
		dispatches: dispatches,
		workers:    workers,
		logs:       logs,
		executor:   NewExecutor(cfg.ScriptsDir, cfg.JobTimeout, logger),

		cfg:    cfg,
		logger: logger.With("component", "worker", "worker_id", id),
	}
}

// ID returns the worker's generated identifier.
func (w *Worker) ID() string { return w.id }

// Run registers the worker, starts its heartbeat loop, and blocks in the
// job polling loop until ctx is canceled. On return, it releases any
// in-flight claim and deregisters — mirroring cleanup_worker.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	w.logger.Info("worker registered", "hostname", w.hostname, "platform", w.platform, "pid", w.processID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	go w.heartbeatLoop(heartbeatCtx)

	w.pollLoop(ctx)

	cancelHeartbeat()
	w.cleanup(context.Background())
	return nil
}

func (w *Worker) register(ctx context.Context) error {
	return w.workers.Register(ctx, &domain.WorkerRegistration{
		WorkerID:      w.id,
		Hostname:      w.hostname,
		Platform:      w.platform,
		StartedAt:     w.startedAt,
		LastHeartbeat: time.Now().UTC(),
		Status:        domain.WorkerIdle,
		JobsProcessed: 0,
		ProcessID:     w.processID,
	})
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.heartbeat(ctx, domain.WorkerIdle, nil); err != nil {
				w.logger.Error("heartbeat failed", "error", err)
			}
		}
	}
}

// heartbeat updates this worker's status, re-registering if the row has
// vanished (e.g. reaped by the scheduler while this process was still
// alive but slow to report in).
func (w *Worker) heartbeat(ctx context.Context, status domain.WorkerStatus, currentJobID *int64) error {
	err := w.workers.Heartbeat(ctx, w.id, status, currentJobID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrWorkerNotFound) {
		return err
	}
	w.logger.Warn("heartbeat target missing, re-registering", "error", err)
	return w.register(ctx)
}

// pollLoop claims and executes one dispatch per iteration, backing off
// with a 1.5x multiplier (capped at MaxPollInterval) when nothing is
// available, and resetting to PollInterval the moment work appears.
func (w *Worker) pollLoop(ctx context.Context) {
	poll := w.cfg.PollInterval
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"max_poll_interval", w.cfg.MaxPollInterval,
		"heartbeat_interval", w.cfg.HeartbeatInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, job, err := w.claim(ctx)
		if err != nil {
			w.logger.Error("claim failed", "error", err)
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		if claimed == nil {
			if !sleepCtx(ctx, poll) {
				return
			}
			poll = min(time.Duration(float64(poll)*1.5), w.cfg.MaxPollInterval)
			continue
		}

		poll = w.cfg.PollInterval
		w.runDispatch(ctx, claimed, job)
	}
}

func (w *Worker) claim(ctx context.Context) (*domain.JobDispatch, *domain.ScheduledJob, error) {
	dispatch, err := w.dispatches.ClaimNext(ctx, w.id)
	if err != nil {
		return nil, nil, err
	}
	if dispatch == nil {
		return nil, nil, nil
	}

	job, err := w.jobs.GetByID(ctx, dispatch.JobID)
	if err != nil {
		w.logger.Error("claimed dispatch references missing job", "dispatch_id", dispatch.ID, "job_id", dispatch.JobID, "error", err)
		_ = w.dispatches.Fail(ctx, dispatch.ID, "job definition not found: "+err.Error())
		return nil, nil, nil
	}

	metrics.DispatchPickupLatency.Observe(time.Since(dispatch.CreatedAt).Seconds())
	w.logger.Info("claimed dispatch", "dispatch_id", dispatch.ID, "job_id", job.ID, "job_name", job.Name)
	return dispatch, job, nil
}

func (w *Worker) runDispatch(ctx context.Context, dispatch *domain.JobDispatch, job *domain.ScheduledJob) {
	if err := w.heartbeat(ctx, domain.WorkerBusy, &job.ID); err != nil {
		w.logger.Error("heartbeat (busy) failed", "error", err)
	}

	metrics.JobsInFlight.Inc()
	outcome := w.executor.Execute(ctx, job)
	metrics.JobsInFlight.Dec()

	if err := w.report(ctx, dispatch, job, outcome); err != nil {
		w.logger.Error("report job result failed", "dispatch_id", dispatch.ID, "error", err)
	}
	w.jobsProcessed++

	if err := w.heartbeat(ctx, domain.WorkerIdle, nil); err != nil {
		w.logger.Error("heartbeat (idle) failed", "error", err)
	}
}

// report mirrors report_job_result: mark the dispatch terminal and append
// an execution log entry, truncating any error message to 500 characters.
func (w *Worker) report(ctx context.Context, dispatch *domain.JobDispatch, job *domain.ScheduledJob, outcome Outcome) error {
	runTime := time.Now().UTC()
	if dispatch.ClaimedAt != nil {
		runTime = *dispatch.ClaimedAt
	}

	if outcome.Status == domain.ExecutionSuccess {
		if err := w.dispatches.Complete(ctx, dispatch.ID); err != nil {
			return fmt.Errorf("mark dispatch complete: %w", err)
		}
	} else {
		if err := w.dispatches.Fail(ctx, dispatch.ID, domain.TruncateError(outcome.LogOutput)); err != nil {
			return fmt.Errorf("mark dispatch failed: %w", err)
		}
	}

	if _, err := w.logs.Create(ctx, &domain.JobExecutionLog{
		JobID:     job.ID,
		RunTime:   runTime,
		Status:    outcome.Status,
		LogOutput: outcome.LogOutput,
	}); err != nil {
		return fmt.Errorf("write execution log: %w", err)
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(outcome.Status)).Inc()
	w.logger.Info("reported dispatch result", "dispatch_id", dispatch.ID, "job_id", job.ID, "status", outcome.Status)
	return nil
}

// cleanup releases any dispatch this worker left IN_PROGRESS and removes
// its own registration — the graceful-shutdown half of cleanup_worker.
func (w *Worker) cleanup(ctx context.Context) {
	released, err := w.dispatches.ReleaseOwnedByWorker(ctx, w.id)
	if err != nil {
		w.logger.Error("release owned dispatches failed", "error", err)
	} else if released > 0 {
		w.logger.Warn("released in-flight dispatches back to pending", "count", released)
	}

	if err := w.workers.Deregister(ctx, w.id); err != nil {
		w.logger.Error("deregister failed", "error", err)
		return
	}
	w.logger.Info("worker deregistered")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
