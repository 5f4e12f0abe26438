package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

type DispatchRepository struct {
	db *sql.DB
}

func NewDispatchRepository(db *sql.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

func (r *DispatchRepository) Create(ctx context.Context, jobID int64, retryCount int) (*domain.JobDispatch, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_dispatch (job_id, status, retry_count) VALUES (?, 'PENDING', ?)`, jobID, retryCount)
	if err != nil {
		return nil, fmt.Errorf("insert dispatch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *DispatchRepository) GetByID(ctx context.Context, id int64) (*domain.JobDispatch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, created_at, claimed_at, completed_at, status, worker_id, retry_count, error_message
		FROM job_dispatch WHERE id = ?`, id)
	return scanDispatch(row)
}

// ClaimNext mirrors spec.md's conditional-update claim algorithm directly:
// find the oldest PENDING id, attempt the UPDATE, check RowsAffected. 0
// affected means another worker (or, on this backend, another goroutine
// inside the same process) already claimed it; ClaimNext then returns nil,
// the same as when nothing is pending.
func (r *DispatchRepository) ClaimNext(ctx context.Context, workerID string) (*domain.JobDispatch, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM job_dispatch WHERE status = 'PENDING' ORDER BY created_at ASC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending dispatch: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE job_dispatch SET status = 'IN_PROGRESS', worker_id = ?, claimed_at = ?
		WHERE id = ? AND status = 'PENDING'`, workerID, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("claim dispatch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *DispatchRepository) Complete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_dispatch SET status = 'COMPLETED', completed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete dispatch: %w", err)
	}
	return requireRowsAffected(res)
}

func (r *DispatchRepository) Fail(ctx context.Context, id int64, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_dispatch SET status = 'FAILED', completed_at = ?, error_message = ? WHERE id = ?`,
		time.Now().UTC(), domain.TruncateError(errMsg), id)
	if err != nil {
		return fmt.Errorf("fail dispatch: %w", err)
	}
	return requireRowsAffected(res)
}

func (r *DispatchRepository) MarkStuckAsTimedOut(ctx context.Context, staleCutoff time.Time, maxRetries int) ([]*domain.JobDispatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT d.id, d.job_id, d.created_at, d.claimed_at, d.completed_at, d.status, d.worker_id, d.retry_count, d.error_message
		FROM job_dispatch d
		WHERE d.status = 'IN_PROGRESS'
		  AND d.claimed_at < ?
		  AND (d.worker_id IS NULL OR NOT EXISTS (
		        SELECT 1 FROM worker_registration w WHERE w.worker_id = d.worker_id
		  ))`, staleCutoff)
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

	now := time.Now().UTC()
	for _, d := range stuck {
		workerLabel := "unknown"
		if d.WorkerID != nil {
			workerLabel = *d.WorkerID
		}
		errMsg := fmt.Sprintf("worker %s died during execution", workerLabel)

		if _, err := tx.ExecContext(ctx, `
			UPDATE job_dispatch SET status = 'TIMEOUT', completed_at = ?, error_message = ?
			WHERE id = ?`, now, errMsg, d.ID); err != nil {
			return nil, fmt.Errorf("mark dispatch %d timed out: %w", d.ID, err)
		}

		if d.RetryCount < maxRetries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO job_dispatch (job_id, status, retry_count) VALUES (?, 'PENDING', ?)`,
				d.JobID, d.RetryCount+1); err != nil {
				return nil, fmt.Errorf("insert retry dispatch for job %d: %w", d.JobID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return stuck, nil
}

func (r *DispatchRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM job_dispatch
		WHERE status IN ('COMPLETED', 'FAILED', 'TIMEOUT') AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc dispatches: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *DispatchRepository) ReleaseOwnedByWorker(ctx context.Context, workerID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE job_dispatch SET status = 'PENDING', worker_id = NULL, claimed_at = NULL
		WHERE worker_id = ? AND status = 'IN_PROGRESS'`, workerID)
	if err != nil {
		return 0, fmt.Errorf("release dispatches owned by %s: %w", workerID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func requireRowsAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrDispatchNotFound
	}
	return nil
}

func scanDispatch(row rowScanner) (*domain.JobDispatch, error) {
	var d domain.JobDispatch
	var claimedAt, completedAt sql.NullTime
	var workerID, errorMessage sql.NullString

	err := row.Scan(
		&d.ID, &d.JobID, &d.CreatedAt, &claimedAt, &completedAt,
		&d.Status, &workerID, &d.RetryCount, &errorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDispatchNotFound
		}
		return nil, fmt.Errorf("scan dispatch: %w", err)
	}

	if claimedAt.Valid {
		d.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	if workerID.Valid {
		d.WorkerID = &workerID.String
	}
	if errorMessage.Valid {
		d.ErrorMessage = &errorMessage.String
	}
	return &d, nil
}
