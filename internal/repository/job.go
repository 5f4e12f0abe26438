package repository

import (
	"context"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

// JobRepository depends on interface, not concrete implementation.
// This way we get: 1) can swap the store backend later without touching the
// usecase 2) we can pass a fake implementation of the interface in tests.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error)
	GetByID(ctx context.Context, id int64) (*domain.ScheduledJob, error)
	List(ctx context.Context) ([]*domain.ScheduledJob, error)
	Update(ctx context.Context, job *domain.ScheduledJob) (*domain.ScheduledJob, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error

	// ClaimDue atomically selects active jobs with next_run <= now that are
	// not presently dispatch-locked, advances next_run via computeNext, sets
	// dispatch_lock_until and last_dispatched_at, and inserts one PENDING
	// JobDispatch row per claimed job — all in a single transaction, one
	// pass of the Scheduler's dispatch cadence.
	ClaimDue(ctx context.Context, now time.Time, lockDuration time.Duration, limit int, computeNext func(*domain.ScheduledJob, time.Time) *time.Time) ([]ClaimedDispatch, error)
}

// ClaimedDispatch pairs a claimed job with the PENDING dispatch created for it.
type ClaimedDispatch struct {
	Job      *domain.ScheduledJob
	Dispatch *domain.JobDispatch
}
