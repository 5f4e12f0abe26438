package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/triggerd/triggerd/internal/domain"
)

// TestClaimNext_ConcurrentCallersClaimDisjointRows drives N goroutines at
// ClaimNext against a single PENDING dispatch to verify the conditional
// UPDATE ... WHERE status = 'PENDING' claim never lets two callers walk
// away with the same row.
func TestClaimNext_ConcurrentCallersClaimDisjointRows(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "claim.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	jobRepo := NewJobRepository(db)
	job, err := jobRepo.Create(ctx, &domain.ScheduledJob{
		Name:         "contended",
		ScriptPath:   "contended.sh",
		ScheduleType: domain.ScheduleManual,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	repo := NewDispatchRepository(db)
	dispatch, err := repo.Create(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}

	const workers = 20
	var (
		wg        sync.WaitGroup
		successes int32
		claimedBy sync.Map
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimNext(ctx, workerID)
			if err != nil {
				t.Errorf("ClaimNext(%s): %v", workerID, err)
				return
			}
			if claimed != nil {
				atomic.AddInt32(&successes, 1)
				claimedBy.Store(workerID, claimed.ID)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", successes)
	}

	got, err := repo.GetByID(ctx, dispatch.ID)
	if err != nil {
		t.Fatalf("get dispatch: %v", err)
	}
	if got.Status != domain.DispatchInProgress {
		t.Fatalf("expected dispatch IN_PROGRESS, got %s", got.Status)
	}
	if got.WorkerID == nil {
		t.Fatal("expected dispatch to carry the claiming worker's id")
	}

	var winners int
	claimedBy.Range(func(_, _ any) bool { winners++; return true })
	if winners != 1 {
		t.Fatalf("expected exactly 1 recorded winner, got %d", winners)
	}
}
