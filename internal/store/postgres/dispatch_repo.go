package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triggerd/triggerd/internal/domain"
)

type DispatchRepository struct {
	pool *pgxpool.Pool
}

func NewDispatchRepository(pool *pgxpool.Pool) *DispatchRepository {
	return &DispatchRepository{pool: pool}
}

func (r *DispatchRepository) Create(ctx context.Context, jobID int64, retryCount int) (*domain.JobDispatch, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO job_dispatch (job_id, status, retry_count)
		VALUES ($1, 'PENDING', $2)
		RETURNING id, job_id, created_at, claimed_at, completed_at, status, worker_id, retry_count, error_message`,
		jobID, retryCount)
	return scanDispatch(row)
}

func (r *DispatchRepository) GetByID(ctx context.Context, id int64) (*domain.JobDispatch, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, job_id, created_at, claimed_at, completed_at, status, worker_id, retry_count, error_message
		FROM job_dispatch WHERE id = $1`, id)
	return scanDispatch(row)
}

// ClaimNext flips the oldest PENDING dispatch to IN_PROGRESS for workerID
// in one UPDATE ... RETURNING. The subselect locks the row with FOR UPDATE
// SKIP LOCKED, so contending workers never block on each other or claim
// the same row; when no row is returned, ClaimNext returns nil.
func (r *DispatchRepository) ClaimNext(ctx context.Context, workerID string) (*domain.JobDispatch, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE job_dispatch
		SET status = 'IN_PROGRESS', worker_id = $1, claimed_at = NOW()
		WHERE id = (
			SELECT id FROM job_dispatch
			WHERE status = 'PENDING'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_id, created_at, claimed_at, completed_at, status, worker_id, retry_count, error_message`,
		workerID)

	d, err := scanDispatch(row)
	if errors.Is(err, domain.ErrDispatchNotFound) {
		return nil, nil
	}
	return d, err
}

func (r *DispatchRepository) Complete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_dispatch SET status = 'COMPLETED', completed_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete dispatch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDispatchNotFound
	}
	return nil
}

func (r *DispatchRepository) Fail(ctx context.Context, id int64, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_dispatch SET status = 'FAILED', completed_at = NOW(), error_message = $2
		WHERE id = $1`, id, domain.TruncateError(errMsg))
	if err != nil {
		return fmt.Errorf("fail dispatch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDispatchNotFound
	}
	return nil
}

// MarkStuckAsTimedOut finds IN_PROGRESS dispatches claimed before
// staleCutoff whose worker is missing from worker_registration, marks them
// TIMEOUT, and creates one retry dispatch per eligible row.
func (r *DispatchRepository) MarkStuckAsTimedOut(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT d.id, d.job_id, d.created_at, d.claimed_at, d.completed_at, d.status, d.worker_id, d.retry_count, d.error_message
		FROM job_dispatch d
		WHERE d.status = 'IN_PROGRESS'
		  AND d.claimed_at < $1
		  AND (d.worker_id IS NULL OR NOT EXISTS (
		        SELECT 1 FROM worker_registration w WHERE w.worker_id = d.worker_id
		  ))
		FOR UPDATE OF d SKIP LOCKED`, staleCutoff)
	if err != nil {
		return nil, fmt.Errorf("select stuck dispatches: %w", err)
	}

	var stuck []*domain.JobDispatch
	for rows.Next() {
		d, scanErr := scanDispatch(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		stuck = append(stuck, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck dispatches: %w", err)
	}

	for _, d := range stuck {
		workerLabel := "unknown"
		if d.WorkerID != nil {
			workerLabel = *d.WorkerID
		}
		errMsg := fmt.Sprintf("worker %s died during execution", workerLabel)

		if _, err := tx.Exec(ctx, `
			UPDATE job_dispatch SET status = 'TIMEOUT', completed_at = $2, error_message = $3
			WHERE id = $1`, d.ID, time.Now().UTC(), errMsg); err != nil {
			return nil, fmt.Errorf("mark dispatch %d timed out: %w", d.ID, err)
		}

		if d.RetryCount < maxRetries {
			if _, err := tx.Exec(ctx, `
				INSERT INTO job_dispatch (job_id, status, retry_count)
				VALUES ($1, 'PENDING', $2)`, d.JobID, d.RetryCount+1); err != nil {
				return nil, fmt.Errorf("insert retry dispatch for job %d: %w", d.JobID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return stuck, nil
}

func (r *DispatchRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM job_dispatch
		WHERE status IN ('COMPLETED', 'FAILED', 'TIMEOUT') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc dispatches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReleaseOwnedByWorker is the graceful-shutdown counterpart to ClaimNext:
// it hands back anything this worker did not finish before exiting.
func (r *DispatchRepository) ReleaseOwnedByWorker(ctx context.Context, workerID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_dispatch
		SET status = 'PENDING', worker_id = NULL, claimed_at = NULL
		WHERE worker_id = $1 AND status = 'IN_PROGRESS'`, workerID)
	if err != nil {
		return 0, fmt.Errorf("release dispatches owned by %s: %w", workerID, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanDispatch(row rowScanner) (*domain.JobDispatch, error) {
	var d domain.JobDispatch
	err := row.Scan(
		&d.ID, &d.JobID, &d.CreatedAt, &d.ClaimedAt, &d.CompletedAt,
		&d.Status, &d.WorkerID, &d.RetryCount, &d.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDispatchNotFound
		}
		return nil, fmt.Errorf("scan dispatch: %w", err)
	}
	return &d, nil
}
