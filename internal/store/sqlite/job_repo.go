package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/repository"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (name, script_path, script_args, schedule_type, interval_seconds, schedule_time, schedule_day, is_active, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.ScriptPath, job.ScriptArgs, job.ScheduleType, job.IntervalSeconds,
		job.ScheduleTime, job.ScheduleDay, job.IsActive, job.NextRun)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, script_path, script_args, schedule_type, interval_seconds,
		       schedule_time, schedule_day, is_active, next_run,
		       last_dispatched_at, dispatch_lock_until, created_at, updated_at
		FROM scheduled_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context) ([]*domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, script_path, script_args, schedule_type, interval_seconds,
		       schedule_time, schedule_day, is_active, next_run,
		       last_dispatched_at, dispatch_lock_until, created_at, updated_at
		FROM scheduled_jobs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) Update(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET
			name = ?, script_path = ?, script_args = ?, schedule_type = ?,
			interval_seconds = ?, schedule_time = ?, schedule_day = ?,
			is_active = ?, next_run = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		job.Name, job.ScriptPath, job.ScriptArgs, job.ScheduleType,
		job.IntervalSeconds, job.ScheduleTime, job.ScheduleDay,
		job.IsActive, job.NextRun, job.ID)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return r.GetByID(ctx, job.ID)
}

func (r *JobRepository) SetActive(ctx context.Context, id int64, active bool) error {
	var res sql.Result
	var err error
	if active {
		res, err = r.db.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET is_active = 1, next_run = COALESCE(next_run, ?), updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, time.Now().UTC(), id)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE scheduled_jobs SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_execution_logs WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete execution logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_dispatch WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete dispatches: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return tx.Commit()
}

// ClaimDue has no FOR UPDATE SKIP LOCKED equivalent in SQLite; a single
// writer connection (see Open) already serializes ClaimDue calls, so the
// plain SELECT-then-UPDATE-in-a-transaction below is race-free in
// practice for this backend.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, script_path, script_args, schedule_type, interval_seconds,
		       schedule_time, schedule_day, is_active, next_run,
		       last_dispatched_at, dispatch_lock_until, created_at, updated_at
		FROM scheduled_jobs
		WHERE is_active = 1 AND next_run IS NOT NULL AND next_run <= ?
		  AND (dispatch_lock_until IS NULL OR dispatch_lock_until < ?)
		ORDER BY next_run ASC
		LIMIT ?`, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}

	claimed := make([]repository.ClaimedDispatch, 0, len(jobs))
	for _, j := range jobs {
		next := computeNext(j, now)
		lockUntil := now.Add(lockDuration)

		if _, err := tx.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET next_run = ?, last_dispatched_at = ?, dispatch_lock_until = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, next, now, lockUntil, j.ID,
		); err != nil {
			return nil, fmt.Errorf("advance job %d: %w", j.ID, err)
		}
		j.NextRun = next
		j.LastDispatchedAt = &now
		j.DispatchLockUntil = &lockUntil

		res, err := tx.ExecContext(ctx, `
			INSERT INTO job_dispatch (job_id, status, retry_count) VALUES (?, 'PENDING', 0)`, j.ID)
		if err != nil {
			return nil, fmt.Errorf("insert dispatch for job %d: %w", j.ID, err)
		}
		dispatchID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id for dispatch: %w", err)
		}

		d, scanErr := scanDispatch(tx.QueryRowContext(ctx, `
			SELECT id, job_id, created_at, claimed_at, completed_at, status, worker_id, retry_count, error_message
			FROM job_dispatch WHERE id = ?`, dispatchID))
		if scanErr != nil {
			return nil, fmt.Errorf("read dispatch for job %d: %w", j.ID, scanErr)
		}

		claimed = append(claimed, repository.ClaimedDispatch{Job: j, Dispatch: d})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return claimed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	var isActive int
	var nextRun, lastDispatchedAt, dispatchLockUntil sql.NullTime

	err := row.Scan(
		&j.ID, &j.Name, &j.ScriptPath, &j.ScriptArgs, &j.ScheduleType, &j.IntervalSeconds,
		&j.ScheduleTime, &j.ScheduleDay, &isActive, &nextRun,
		&lastDispatchedAt, &dispatchLockUntil, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.IsActive = isActive != 0
	if nextRun.Valid {
		j.NextRun = &nextRun.Time
	}
	if lastDispatchedAt.Valid {
		j.LastDispatchedAt = &lastDispatchedAt.Time
	}
	if dispatchLockUntil.Valid {
		j.DispatchLockUntil = &dispatchLockUntil.Time
	}
	return &j, nil
}
