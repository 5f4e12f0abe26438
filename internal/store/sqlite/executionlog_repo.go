package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/triggerd/triggerd/internal/domain"
)

type ExecutionLogRepository struct {
	db *sql.DB
}

func NewExecutionLogRepository(db *sql.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

func (r *ExecutionLogRepository) Create(ctx context.Context, log *domain.JobExecutionLog) (*domain.JobExecutionLog, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_execution_logs (job_id, run_time, status, log_output) VALUES (?, ?, ?, ?)`,
		log.JobID, log.RunTime, log.Status, log.LogOutput)
	if err != nil {
		return nil, fmt.Errorf("insert execution log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, run_time, status, log_output FROM job_execution_logs WHERE id = ?`, id)
	return scanExecutionLog(row)
}

func (r *ExecutionLogRepository) ListByJobID(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, run_time, status, log_output
		FROM job_execution_logs
		WHERE job_id = ?
		ORDER BY run_time DESC
		LIMIT ?`, jobID, limit)
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

// Latest returns the most recent entry per job. SQLite predates a portable
// DISTINCT ON, so this runs one indexed query per job — acceptable at the
// small worker/job counts this backend targets.
func (r *ExecutionLogRepository) Latest(ctx context.Context, jobIDs []int64) (map[int64]*domain.JobExecutionLog, error) {
	result := make(map[int64]*domain.JobExecutionLog, len(jobIDs))
	for _, id := range jobIDs {
		row := r.db.QueryRowContext(ctx, `
			SELECT id, job_id, run_time, status, log_output
			FROM job_execution_logs WHERE job_id = ? ORDER BY run_time DESC LIMIT 1`, id)
		l, err := scanExecutionLog(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		result[id] = l
	}
	return result, nil
}

func scanExecutionLog(row rowScanner) (*domain.JobExecutionLog, error) {
	var l domain.JobExecutionLog
	if err := row.Scan(&l.ID, &l.JobID, &l.RunTime, &l.Status, &l.LogOutput); err != nil {
		return nil, fmt.Errorf("scan execution log: %w", err)
	}
	return &l, nil
}
