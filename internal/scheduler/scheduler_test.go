package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/repository"
	"github.com/triggerd/triggerd/internal/scheduler"
)

// ---- fakes ----

type fakeJobRepo struct {
	repository.JobRepository
	claimDue func(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error)
}

func (f *fakeJobRepo) ClaimDue(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error) {
	return f.claimDue(ctx, now, lockDuration, limit, computeNext)
}

type fakeDispatchRepo struct {
	repository.DispatchRepository
	markStuck   func(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error)
	deleteOlder func(ctx context.Context, cutoff time.Time) (int, error)
}

func (f *fakeDispatchRepo) MarkStuckAsTimedOut(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error) {
	return f.markStuck(ctx, staleCutoff, maxRetries)
}

func (f *fakeDispatchRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return f.deleteOlder(ctx, cutoff)
}

type fakeWorkerRepo struct {
	repository.WorkerRepository
	deleteStale func(ctx context.Context, cutoff time.Time) (int, error)
}

func (f *fakeWorkerRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	return f.deleteStale(ctx, cutoff)
}

type fakeLogRepo struct {
	repository.ExecutionLogRepository
	created []*domain.JobExecutionLog
}

func (f *fakeLogRepo) Create(ctx context.Context, log *domain.JobExecutionLog) (*domain.JobExecutionLog, error) {
	f.created = append(f.created, log)
	return log, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() scheduler.Config {
	return scheduler.Config{
		PollInterval:           10 * time.Millisecond,
		DispatchLockDuration:   300 * time.Second,
		JobTimeoutThreshold:    600 * time.Second,
		MaxRetryAttempts:       3,
		CleanupRetentionDays:   30,
		WorkerOfflineThreshold: 180 * time.Second,
	}
}

// S1: a due interval job is claimed and dispatched.
func TestDispatchDueJobs_ClaimsAndLogs(t *testing.T) {
	called := false
	job := &domain.ScheduledJob{ID: 1, Name: "nightly-export", ScheduleType: domain.ScheduleInterval, IntervalSeconds: 30}

	jobs := &fakeJobRepo{
		claimDue: func(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error) {
			called = true
			next := computeNext(job, now)
			job.NextRun = next
			return []repository.ClaimedDispatch{
				{Job: job, Dispatch: &domain.JobDispatch{ID: 100, JobID: job.ID, Status: domain.DispatchPending}},
			}, nil
		},
	}
	dispatches := &fakeDispatchRepo{}
	workers := &fakeWorkerRepo{}
	logs := &fakeLogRepo{}

	s := scheduler.New(jobs, dispatches, workers, logs, testConfig(), silentLogger())
	ctx := context.Background()

	s.RunPassForTest(ctx, 1)

	if !called {
		t.Fatal("expected ClaimDue to be invoked")
	}
	if job.NextRun == nil {
		t.Fatal("expected next_run to be advanced")
	}
}

// S5/invariant 6: a stuck IN_PROGRESS dispatch under the retry cap writes
// a TIMEOUT execution log.
func TestDetectStuckDispatches_WritesTimeoutLog(t *testing.T) {
	claimedAt := time.Now().UTC().Add(-20 * time.Minute)
	workerID := "worker-deadbeef"

	jobs := &fakeJobRepo{claimDue: func(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error) {
		return nil, nil
	}}
	dispatches := &fakeDispatchRepo{
		markStuck: func(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error) {
			return []*domain.JobDispatch{
				{ID: 7, JobID: 1, ClaimedAt: &claimedAt, WorkerID: &workerID, Status: domain.DispatchTimedOut, RetryCount: 0},
			}, nil
		},
		deleteOlder: func(ctx context.Context, cutoff time.Time) (int, error) { return 0, nil },
	}
	workers := &fakeWorkerRepo{deleteStale: func(ctx context.Context, cutoff time.Time) (int, error) { return 0, nil }}
	logs := &fakeLogRepo{}

	s := scheduler.New(jobs, dispatches, workers, logs, testConfig(), silentLogger())

	// iteration divisible by detectStuckJobsEvery (6) triggers the sub-task.
	s.RunPassForTest(context.Background(), 6)

	if len(logs.created) != 1 {
		t.Fatalf("expected 1 timeout execution log, got %d", len(logs.created))
	}
	if logs.created[0].Status != domain.ExecutionTimeout {
		t.Fatalf("expected ExecutionTimeout status, got %s", logs.created[0].Status)
	}
	if logs.created[0].JobID != 1 {
		t.Fatalf("expected job_id 1, got %d", logs.created[0].JobID)
	}
}

func TestReapStaleWorkers_OnlyRunsOnCadence(t *testing.T) {
	reapCalls := 0

	jobs := &fakeJobRepo{claimDue: func(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error) {
		return nil, nil
	}}
	dispatches := &fakeDispatchRepo{
		markStuck:   func(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error) { return nil, nil },
		deleteOlder: func(ctx context.Context, cutoff time.Time) (int, error) { return 0, nil },
	}
	workers := &fakeWorkerRepo{deleteStale: func(ctx context.Context, cutoff time.Time) (int, error) {
		reapCalls++
		return 1, nil
	}}
	logs := &fakeLogRepo{}

	s := scheduler.New(jobs, dispatches, workers, logs, testConfig(), silentLogger())

	s.RunPassForTest(context.Background(), 1) // not a multiple of 10
	if reapCalls != 0 {
		t.Fatalf("expected no reap on iteration 1, got %d calls", reapCalls)
	}

	s.RunPassForTest(context.Background(), 10) // multiple of 10
	if reapCalls != 1 {
		t.Fatalf("expected exactly 1 reap call on iteration 10, got %d", reapCalls)
	}
}
