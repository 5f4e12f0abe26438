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

type WorkerRepository struct {
	pool *pgxpool.Pool
}

func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

// Register deletes any prior row for workerID then inserts fresh — a
// worker restarting under the same ID never collides with its own stale
// registration.
func (r *WorkerRepository) Register(ctx context.Context, w *domain.WorkerRegistration) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM worker_registration WHERE worker_id = $1`, w.WorkerID); err != nil {
		return fmt.Errorf("clear stale registration: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO worker_registration (
			worker_id, hostname, platform, started_at, last_heartbeat,
			status, jobs_processed, current_job_id, process_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.WorkerID, w.Hostname, w.Platform, w.StartedAt, w.LastHeartbeat,
		w.Status, w.JobsProcessed, w.CurrentJobID, w.ProcessID,
	); err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *WorkerRepository) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE worker_registration
		SET last_heartbeat = NOW(), status = $2, current_job_id = $3
		WHERE worker_id = $1`, workerID, status, currentJobID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func (r *WorkerRepository) List(ctx context.Context) ([]*domain.WorkerRegistration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT worker_id, hostname, platform, started_at, last_heartbeat,
		       status, jobs_processed, current_job_id, process_id
		FROM worker_registration ORDER BY worker_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*domain.WorkerRegistration
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (r *WorkerRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM worker_registration WHERE last_heartbeat < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale workers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *WorkerRepository) Deregister(ctx context.Context, workerID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM worker_registration WHERE worker_id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("deregister worker: %w", err)
	}
	return nil
}

func scanWorker(row rowScanner) (*domain.WorkerRegistration, error) {
	var w domain.WorkerRegistration
	err := row.Scan(
		&w.WorkerID, &w.Hostname, &w.Platform, &w.StartedAt, &w.LastHeartbeat,
		&w.Status, &w.JobsProcessed, &w.CurrentJobID, &w.ProcessID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return &w, nil
}
