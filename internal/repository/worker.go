package repository

import (
	"context"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

// WorkerRepository manages the set of live worker registrations.
type WorkerRepository interface {
	// Register replaces any prior registration for workerID (delete-then-
	// insert), so a worker restarting with the same ID does not collide
	// with its own stale row.
	Register(ctx context.Context, w *domain.WorkerRegistration) error

	Heartbeat(ctx context.Context, workerID string, status domain.WorkerStatus, currentJobID *int64) error

	List(ctx context.Context) ([]*domain.WorkerRegistration, error)

	// DeleteStale removes registrations whose last_heartbeat predates
	// cutoff — the Scheduler's reaper for dead workers.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)

	// Deregister is called on a worker's graceful shutdown.
	Deregister(ctx context.Context, workerID string) error
}
