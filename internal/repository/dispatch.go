package repository

import (
	"context"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

// DispatchRepository manages the PENDING -> IN_PROGRESS -> terminal lifecycle
// of individual attempts to run a ScheduledJob.
type DispatchRepository interface {
	// Create opens a PENDING dispatch for jobID with the given retry count.
	Create(ctx context.Context, jobID int64, retryCount int) (*domain.JobDispatch, error)

	GetByID(ctx context.Context, id int64) (*domain.JobDispatch, error)

	// ClaimNext conditionally transitions one PENDING dispatch to
	// IN_PROGRESS with workerID and returns it, or nil if none is
	// available. The sqlite store implements this as a conditional UPDATE +
	// RowsAffected check; postgres uses a single UPDATE over a FOR UPDATE
	// SKIP LOCKED subselect so contending workers do not block each other.
	ClaimNext(ctx context.Context, workerID string) (*domain.JobDispatch, error)

	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, errMsg string) error

	// MarkStuckAsTimedOut finds IN_PROGRESS dispatches claimed before
	// staleCutoff whose worker no longer has a registration row, marks them
	// TIMEOUT, and for each with
	// retry_count < maxRetries creates exactly one successor PENDING
	// dispatch with retry_count+1. Returns the timed-out dispatches.
	MarkStuckAsTimedOut(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error)

	// DeleteOlderThan purges terminal dispatches completed before cutoff —
	// the Scheduler's retention sweep. Execution logs are not deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// ReleaseOwnedByWorker returns every IN_PROGRESS dispatch still held by
	// workerID back to PENDING, clearing worker_id and claimed_at — called
	// on a worker's graceful shutdown so in-flight work is picked up again
	// rather than waiting out the scheduler's stuck-dispatch timeout.
	ReleaseOwnedByWorker(ctx context.Context, workerID string) (int, error)
}
