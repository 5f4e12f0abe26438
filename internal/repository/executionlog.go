package repository

import (
	"context"

	"github.com/triggerd/triggerd/internal/domain"
)

// ExecutionLogRepository is the append-only record of terminal job runs
// presented to the UI.
type ExecutionLogRepository interface {
	Create(ctx context.Context, log *domain.JobExecutionLog) (*domain.JobExecutionLog, error)

	// ListByJobID returns the most recent entries for a job, newest first.
	ListByJobID(ctx context.Context, jobID int64, limit int) ([]*domain.JobExecutionLog, error)

	// Latest returns the most recent entry per job, used to drive the
	// per-job status badge the UI shows without an N+1 query per job.
	Latest(ctx context.Context, jobIDs []int64) (map[int64]*domain.JobExecutionLog, error)
}
