package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config collects every environment-driven setting the Scheduler, Worker,
// and Control Plane need into one validated record, loaded once at startup.
type Config struct {
	Env         string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port        string `env:"PORT" envDefault:"8080" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	DBURL         string `env:"DB_URL" envDefault:"sqlite:///jobs.db" validate:"required"`
	DisplayTZ     string `env:"DISPLAY_TIMEZONE" envDefault:"Asia/Hong_Kong" validate:"required"`
	ScriptsDir    string `env:"SCRIPTS_DIR" envDefault:"./scripts" validate:"required"`

	SchedulerPollInterval  time.Duration `env:"SCHEDULER_POLL_INTERVAL" envDefault:"10s" validate:"min=1s"`
	DispatchLockDuration   time.Duration `env:"DISPATCH_LOCK_DURATION" envDefault:"300s" validate:"min=1s"`
	JobTimeoutThreshold    time.Duration `env:"JOB_TIMEOUT_THRESHOLD" envDefault:"600s" validate:"min=1s"`
	MaxRetryAttempts       int           `env:"MAX_RETRY_ATTEMPTS" envDefault:"3" validate:"min=0,max=20"`
	CleanupRetentionDays   int           `env:"CLEANUP_RETENTION_DAYS" envDefault:"30" validate:"min=1"`

	WorkerOfflineThreshold  time.Duration `env:"WORKER_OFFLINE_THRESHOLD" envDefault:"180s" validate:"min=1s"`
	WorkerPollInterval      time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s" validate:"min=1s"`
	WorkerMaxPollInterval   time.Duration `env:"WORKER_MAX_POLL_INTERVAL" envDefault:"60s" validate:"min=1s"`
	WorkerHeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL" envDefault:"30s" validate:"min=1s"`
	WorkerJobTimeout        time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"600s" validate:"min=1s"`
}

// Load reads and validates configuration from the environment. A .env file
// in the working directory is loaded first, best-effort, without
// overwriting variables already set — convenient for local development,
// a no-op in deployed environments where .env does not exist.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	v := validator.New()
	v.RegisterStructValidation(timeoutOrderingStructLevel, Config{})

	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// timeoutOrderingStructLevel enforces §5's timeout discipline: the
// dispatch lock must expire before the scheduler considers a dispatch
// stuck, and the worker's own subprocess timeout must fire before that —
// otherwise the scheduler reaps jobs the worker itself would have
// finished timing out correctly.
func timeoutOrderingStructLevel(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.DispatchLockDuration >= cfg.JobTimeoutThreshold {
		sl.ReportError(cfg.DispatchLockDuration, "DispatchLockDuration", "DispatchLockDuration", "lt_jobtimeoutthreshold", "")
	}
	if cfg.WorkerJobTimeout >= cfg.JobTimeoutThreshold {
		sl.ReportError(cfg.WorkerJobTimeout, "WorkerJobTimeout", "WorkerJobTimeout", "lt_jobtimeoutthreshold", "")
	}
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
