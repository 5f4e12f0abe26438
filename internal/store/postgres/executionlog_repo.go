package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triggerd/triggerd/internal/domain"
)

type ExecutionLogRepository struct {
	pool *pgxpool.Pool
}

func NewExecutionLogRepository(pool *pgxpool.Pool) *ExecutionLogRepository {
	return &ExecutionLogRepository{pool: pool}
}

func (r *ExecutionLogRepository) Create(ctx context.Context, log *domain.JobExecutionLog) (*domain.JobExecutionLog, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO job_execution_logs (job_id, run_time, status, log_output)
		VALUES ($1, $2, $3, $4)
		RETURNING id, job_id, run_time, status, log_output`,
		log.JobID, log.RunTime, log.Status, log.LogOutput)
	return scanExecutionLog(row)
}

func (r *ExecutionLogRepository) ListByJobID(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, run_time, status, log_output
		FROM job_execution_logs
		WHERE job_id = $1
		ORDER BY run_time DESC
		LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.JobExecutionLog
	for rows.Next() {
		l, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *ExecutionLogRepository) Latest(ctx context.Context, jobIDs []int64) (map[int64]*domain.JobExecutionLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (job_id) id, job_id, run_time, status, log_output
		FROM job_execution_logs
		WHERE job_id = ANY($1)
		ORDER BY job_id, run_time DESC`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("latest execution logs: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*domain.JobExecutionLog, len(jobIDs))
	for rows.Next() {
		l, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		result[l.JobID] = l
	}
	return result, rows.Err()
}

func scanExecutionLog(row rowScanner) (*domain.JobExecutionLog, error) {
	var l domain.JobExecutionLog
	if err := row.Scan(&l.ID, &l.JobID, &l.RunTime, &l.Status, &l.LogOutput); err != nil {
		return nil, fmt.Errorf("scan execution log: %w", err)
	}
	return &l, nil
}
