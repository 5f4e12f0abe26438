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

	"github.com/triggerd/triggerd/config"
	httptransport "github.com/triggerd/triggerd/internal/http"
	"github.com/triggerd/triggerd/internal/http/handler"
	ctxlog "github.com/triggerd/triggerd/internal/log"
	"github.com/triggerd/triggerd/internal/metrics"
	"github.com/triggerd/triggerd/internal/clock"
	"github.com/triggerd/triggerd/internal/store"
	"github.com/triggerd/triggerd/internal/usecase"
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

	loc, err := clock.DisplayLocation(cfg.DisplayTZ)
	if err != nil {
		stop()
		log.Fatalf("display timezone: %v", err)
	}

	jobUsecase := usecase.NewJobUsecase(db.Jobs, db.Workers, db.ExecutionLogs, cfg.ScriptsDir, loc, cfg.WorkerOfflineThreshold)
	jobHandler := handler.NewJobHandler(jobUsecase, logger)

	metrics.Register()

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, jobHandler),
	}

	go func() {
		logger.Info("control plane started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("control plane: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("control plane shutdown", "error", err)
	}
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
