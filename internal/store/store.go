// Package store selects a concrete repository backend from a DB_URL
// scheme, keeping every caller (usecase, scheduler, worker) dependent only
// on the repository interfaces.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triggerd/triggerd/internal/repository"
	"github.com/triggerd/triggerd/internal/store/postgres"
	"github.com/triggerd/triggerd/internal/store/sqlite"
)

// Store bundles the four repositories over one backend connection.
type Store struct {
	Jobs          repository.JobRepository
	Dispatches    repository.DispatchRepository
	Workers       repository.WorkerRepository
	ExecutionLogs repository.ExecutionLogRepository

	// Pinger satisfies internal/health.Pinger for readiness checks.
	Pinger Pinger

	// Backend names which concrete store is active ("postgres" or
	// "sqlite") for the health checker's dependency label.
	Backend string

	close func(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool directly and by *sql.DB through
// sqlPinger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// sqlPinger adapts database/sql's context-taking PingContext to Pinger.
type sqlPinger struct{ pingContext func(ctx context.Context) error }

func (p sqlPinger) Ping(ctx context.Context) error { return p.pingContext(ctx) }

// Open dispatches on dbURL's scheme: postgres(ql):// selects the pgx
// backend, sqlite:// (the default, per spec.md §6) selects the
// database/sql + mattn/go-sqlite3 backend.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		pool, err := postgres.NewPool(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Store{
			Jobs:          postgres.NewJobRepository(pool),
			Dispatches:    postgres.NewDispatchRepository(pool),
			Workers:       postgres.NewWorkerRepository(pool),
			ExecutionLogs: postgres.NewExecutionLogRepository(pool),
			Pinger:        pgxPinger{pool},
			Backend:       "postgres",
			close:         func(ctx context.Context) error { pool.Close(); return nil },
		}, nil

	case strings.HasPrefix(dbURL, "sqlite://"), strings.HasPrefix(dbURL, "sqlite:///"):
		path := strings.TrimPrefix(dbURL, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Store{
			Jobs:          sqlite.NewJobRepository(db),
			Dispatches:    sqlite.NewDispatchRepository(db),
			Workers:       sqlite.NewWorkerRepository(db),
			ExecutionLogs: sqlite.NewExecutionLogRepository(db),
			Pinger:        sqlPinger{db.PingContext},
			Backend:       "sqlite",
			close:         func(ctx context.Context) error { return db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported DB_URL scheme in %q: expected postgres://, postgresql://, or sqlite://", dbURL)
	}
}

// Close releases the underlying connection pool/handle.
func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

type pgxPinger struct{ pool *pgxpool.Pool }

func (p pgxPinger) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
