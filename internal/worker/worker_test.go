package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/repository"
)

type fakeJobRepo struct {
	repository.JobRepository
	getByID func(ctx context.Context, id int64) (*domain.ScheduledJob, error)
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
	return f.getByID(ctx, id)
}

type fakeDispatchRepo struct {
	repository.DispatchRepository
	claimNext    func(ctx context.Context, workerID string) (*domain.JobDispatch, error)
	complete     func(ctx context.Context, id int64) error
	fail         func(ctx context.Context, id int64, errMsg string) error
	releaseOwned func(ctx context.Context, workerID string) (int, error)
}

func (f *fakeDispatchRepo) ClaimNext(ctx context.Context, workerID string) (*domain.JobDispatch, error) {
	return f.claimNext(ctx, workerID)
}
func (f *fakeDispatchRepo) Complete(ctx context.Context, id int64) error { return f.complete(ctx, id) }
func (f *fakeDispatchRepo) Fail(ctx context.Context, id int64, errMsg string) error {
	return f.fail(ctx, id, errMsg)
}
func (f *fakeDispatchRepo) ReleaseOwnedByWorker(ctx context.Context, workerID string) (int, error) {
	if f.releaseOwned != nil {
		return f.releaseOwned(ctx, workerID)
	}
	return 0, nil
}

type fakeWorkerRepo struct {
	repository.WorkerRepository
	register    func(ctx context.Context, w *domain.WorkerRegistration) error
	heartbeat   func(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64) error
	deregister  func(ctx context.Context, workerID string) error
}

func (f *fakeWorkerRepo) Register(ctx context.Context, w *domain.WorkerRegistration) error {
	return f.register(ctx, w)
}
func (f *fakeWorkerRepo) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64) error {
	return f.heartbeat(ctx, workerID, status, currentJobID)
}
func (f *fakeWorkerRepo) Deregister(ctx context.Context, workerID string) error {
	return f.deregister(ctx, workerID)
}

type fakeLogRepo struct {
	repository.ExecutionLogRepository
	created []*domain.JobExecutionLog
}

func (f *fakeLogRepo) Create(ctx context.Context, log *domain.JobExecutionLog) (*domain.JobExecutionLog, error) {
	f.created = append(f.created, log)
	return log, nil
}

func testConfig(dir string) Config {
	return Config{
		PollInterval:      5 * time.Millisecond,
		MaxPollInterval:   20 * time.Millisecond,
		HeartbeatInterval: time.Hour, // don't fire during the test
		JobTimeout:        5 * time.Second,
		ScriptsDir:        dir,
	}
}

// TestClaim_JobMissingFailsDispatch exercises the defensive path where a
// claimed dispatch references a job row that has since been deleted.
func TestClaim_JobMissingFailsDispatch(t *testing.T) {
	dispatch := &domain.JobDispatch{ID: 1, JobID: 99, Status: domain.DispatchInProgress}
	var failedID int64
	var failedMsg string

	jobs := &fakeJobRepo{getByID: func(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
		return nil, domain.ErrJobNotFound
	}}
	dispatches := &fakeDispatchRepo{
		claimNext: func(ctx context.Context, workerID string) (*domain.JobDispatch, error) { return dispatch, nil },
		fail: func(ctx context.Context, id int64, errMsg string) error {
			failedID = id
			failedMsg = errMsg
			return nil
		},
	}
	workers := &fakeWorkerRepo{}
	logs := &fakeLogRepo{}

	w := New(jobs, dispatches, workers, logs, testConfig(t.TempDir()), silentLogger())

	d, j, err := w.claim(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil || j != nil {
		t.Fatal("expected claim to report no work when the job is missing")
	}
	if failedID != 1 {
		t.Fatalf("expected dispatch 1 to be failed, got %d", failedID)
	}
	if failedMsg == "" {
		t.Fatal("expected a non-empty failure message")
	}
}

// TestRunDispatch_SuccessReportsCompleteAndLog runs a real script through
// the executor and checks the dispatch/log side effects it triggers.
func TestRunDispatch_SuccessReportsCompleteAndLog(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", "#!/bin/bash\necho done\nexit 0\n")

	job := &domain.ScheduledJob{ID: 1, Name: "ok", ScriptPath: "ok.sh"}
	dispatch := &domain.JobDispatch{ID: 10, JobID: 1, Status: domain.DispatchInProgress}

	var completedID int64
	var heartbeats []domain.WorkerStatus

	jobs := &fakeJobRepo{}
	dispatches := &fakeDispatchRepo{
		complete: func(ctx context.Context, id int64) error { completedID = id; return nil },
		fail:     func(ctx context.Context, id int64, errMsg string) error { t.Fatal("fail should not be called"); return nil },
	}
	workers := &fakeWorkerRepo{
		heartbeat: func(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64) error {
			heartbeats = append(heartbeats, status)
			return nil
		},
	}
	logs := &fakeLogRepo{}

	w := New(jobs, dispatches, workers, logs, testConfig(dir), silentLogger())
	w.runDispatch(context.Background(), dispatch, job)

	if completedID != 10 {
		t.Fatalf("expected dispatch 10 to be completed, got %d", completedID)
	}
	if len(logs.created) != 1 || logs.created[0].Status != domain.ExecutionSuccess {
		t.Fatalf("expected one SUCCESS execution log, got %+v", logs.created)
	}
	if len(heartbeats) != 2 || heartbeats[0] != domain.WorkerBusy || heartbeats[1] != domain.WorkerIdle {
		t.Fatalf("expected BUSY then IDLE heartbeats, got %v", heartbeats)
	}
}

// TestPollLoop_KeepsPollingThroughEmptyAndFailedClaims checks that the
// loop keeps claiming after empty results and after claim errors, until
// ctx expires.
func TestPollLoop_KeepsPollingThroughEmptyAndFailedClaims(t *testing.T) {
	var calls int32
	emptyCalls := 3

	jobs := &fakeJobRepo{}
	dispatches := &fakeDispatchRepo{
		claimNext: func(ctx context.Context, workerID string) (*domain.JobDispatch, error) {
			n := atomic.AddInt32(&calls, 1)
			if int(n) <= emptyCalls {
				return nil, nil
			}
			return nil, context.Canceled // a claim error: the loop logs it and polls again after PollInterval
		},
	}
	workers := &fakeWorkerRepo{}
	logs := &fakeLogRepo{}

	w := New(jobs, dispatches, workers, logs, testConfig(t.TempDir()), silentLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.pollLoop(ctx)

	if atomic.LoadInt32(&calls) < int32(emptyCalls) {
		t.Fatalf("expected at least %d claim attempts, got %d", emptyCalls, calls)
	}
}
