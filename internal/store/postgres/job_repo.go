package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/repository"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error) {
	query := `
		INSERT INTO scheduled_jobs (
			name, script_path, script_args, schedule_type, interval_seconds,
			schedule_time, schedule_day, is_active, next_run
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, name, script_path, script_args, schedule_type, interval_seconds,
		          schedule_time, schedule_day, is_active, next_run,
		          last_dispatched_at, dispatch_lock_until, created_at, updated_at`

	row := r.pool.QueryRow(ctx, query,
		job.Name, job.ScriptPath, job.ScriptArgs, job.ScheduleType, job.IntervalSeconds,
		job.ScheduleTime, job.ScheduleDay, job.IsActive, job.NextRun,
	)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error) {
	query := `
		SELECT id, name, script_path, script_args, schedule_type, interval_seconds,
		       schedule_time, schedule_day, is_active, next_run,
		       last_dispatched_at, dispatch_lock_until, created_at, updated_at
		FROM scheduled_jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

func (r *JobRepository) List(ctx context.Context) ([]*domain.ScheduledJob, error) {
	query := `
		SELECT id, name, script_path, script_args, schedule_type, interval_seconds,
		       schedule_time, schedule_day, is_active, next_run,
		       last_dispatched_at, dispatch_lock_until, created_at, updated_at
		FROM scheduled_jobs ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
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
	query := `
		UPDATE scheduled_jobs SET
			name = $2, script_path = $3, script_args = $4, schedule_type = $5,
			interval_seconds = $6, schedule_time = $7, schedule_day = $8,
			is_active = $9, next_run = $10,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, script_path, script_args, schedule_type, interval_seconds,
		          schedule_time, schedule_day, is_active, next_run,
		          last_dispatched_at, dispatch_lock_until, created_at, updated_at`

	row := r.pool.QueryRow(ctx, query,
		job.ID, job.Name, job.ScriptPath, job.ScriptArgs, job.ScheduleType,
		job.IntervalSeconds, job.ScheduleTime, job.ScheduleDay,
		job.IsActive, job.NextRun,
	)
	return scanJob(row)
}

func (r *JobRepository) SetActive(ctx context.Context, id int64, active bool) error {
	var nextRun any
	if active {
		nextRun = time.Now().UTC()
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET is_active = $2, updated_at = NOW(),
		    next_run = CASE WHEN $2 THEN COALESCE($3, next_run) ELSE next_run END
		WHERE id = $1`, id, active, nextRun)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM job_execution_logs WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete execution logs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM job_dispatch WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete dispatches: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return tx.Commit(ctx)
}

// ClaimDue claims due jobs, advances next_run, and inserts a PENDING
// dispatch per claimed job — all in a single transaction so a crash never
// leaves a job advanced without a corresponding dispatch, or vice versa.
// FOR UPDATE SKIP LOCKED lets a second Scheduler instance skip jobs already
// being claimed rather than block on them.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]repository.ClaimedDispatch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, name, script_path, script_args, schedule_type, interval_seconds,
		       schedule_time, schedule_day, is_active, next_run,
		       last_dispatched_at, dispatch_lock_until, created_at, updated_at
		FROM scheduled_jobs
		WHERE is_active AND next_run IS NOT NULL AND next_run <= $1
		  AND (dispatch_lock_until IS NULL OR dispatch_lock_until < $1)
		ORDER BY next_run ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
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

		if _, err := tx.Exec(ctx, `
			UPDATE scheduled_jobs
			SET next_run = $2, last_dispatched_at = $3, dispatch_lock_until = $4, updated_at = NOW()
			WHERE id = $1`, j.ID, next, now, lockUntil,
		); err != nil {
			return nil, fmt.Errorf("advance job %d: %w", j.ID, err)
		}
		j.NextRun = next
		j.LastDispatchedAt = &now
		j.DispatchLockUntil = &lockUntil

		d, scanErr := scanDispatch(tx.QueryRow(ctx, `
			INSERT INTO job_dispatch (job_id, status, retry_count)
			VALUES ($1, 'PENDING', 0)
			RETURNING id, job_id, created_at, claimed_at, completed_at, status, worker_id, retry_count, error_message`,
			j.ID))
		if scanErr != nil {
			return nil, fmt.Errorf("insert dispatch for job %d: %w", j.ID, scanErr)
		}

		claimed = append(claimed, repository.ClaimedDispatch{Job: j, Dispatch: d})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return claimed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	err := row.Scan(
		&j.ID, &j.Name, &j.ScriptPath, &j.ScriptArgs, &j.ScheduleType, &j.IntervalSeconds,
		&j.ScheduleTime, &j.ScheduleDay, &j.IsActive, &j.NextRun,
		&j.LastDispatchedAt, &j.DispatchLockUntil, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
