package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/triggerd/triggerd/config"
	"github.com/triggerd/triggerd/internal/health"
	ctxlog "github.com/triggerd/triggerd/internal/log"
	"github.com/triggerd/triggerd/internal/metrics"
	"github.com/triggerd/triggerd/internal/store"
	"github.com/triggerd/triggerd/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	db, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer db.Close(context.Background())

	logger.Info("store connected", "backend", db.Backend)

	metrics.Register()
	checker := health.NewChecker(db.Pinger, db.Backend, logger, prometheus.DefaultRegisterer)
	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))

	w := worker.New(db.Jobs, db.Dispatches, db.Workers, db.ExecutionLogs, worker.Config{
		PollInterval:      cfg.WorkerPollInterval,
		MaxPollInterval:   cfg.WorkerMaxPollInterval,
		HeartbeatInterval: cfg.WorkerHeartbeatInterval,
		JobTimeout:        cfg.WorkerJobTimeout,
		ScriptsDir:        cfg.ScriptsDir,
	}, logger)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort,
		func() any { return checker.Liveness(context.Background()) },
		func() (any, bool) {
			result := checker.Readiness(context.Background())
			return result, result.Status == "up"
		},
	)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	w.Run(ctx)
	stop()
	metrics.WorkerShutdownsTotal.Inc()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
