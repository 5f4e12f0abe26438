package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

type WorkerRepository struct {
	db *sql.DB
}

func NewWorkerRepository(db *sql.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

func (r *WorkerRepository) Register(ctx context.Context, w *domain.WorkerRegistration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM worker_registration WHERE worker_id = ?`, w.WorkerID); err != nil {
		return fmt.Errorf("clear stale registration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO worker_registration (
			worker_id, hostname, platform, started_at, last_heartbeat,
			status, jobs_processed, current_job_id, process_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.WorkerID, w.Hostname, w.Platform, w.StartedAt, w.LastHeartbeat,
		w.Status, w.JobsProcessed, w.CurrentJobID, w.ProcessID,
	); err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return tx.Commit()
}

func (r *WorkerRepository) Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE worker_registration SET last_heartbeat = ?, status = ?, current_job_id = ?
		WHERE worker_id = ?`, time.Now().UTC(), status, currentJobID, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func (r *WorkerRepository) List(ctx context.Context) ([]*domain.WorkerRegistration, error) {
	rows, err := r.db.QueryContext(ctx, `
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM worker_registration WHERE last_heartbeat < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale workers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *WorkerRepository) Deregister(ctx context.Context, workerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM worker_registration WHERE worker_id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("deregister worker: %w", err)
	}
	return nil
}

func scanWorker(row rowScanner) (*domain.WorkerRegistration, error) {
	var w domain.WorkerRegistration
	var currentJobID sql.NullInt64

	err := row.Scan(
		&w.WorkerID, &w.Hostname, &w.Platform, &w.StartedAt, &w.LastHeartbeat,
		&w.Status, &w.JobsProcessed, &currentJobID, &w.ProcessID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	if currentJobID.Valid {
		w.CurrentJobID = &currentJobID.Int64
	}
	return &w, nil
}
