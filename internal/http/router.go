// Package httptransport assembles the Control Plane's gin router: an
// unauthenticated HTTP surface over JobUsecase, since this system has no
// multi-tenant or identity concept to protect routes with.
package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triggerd/triggerd/internal/http/handler"
	"github.com/triggerd/triggerd/internal/http/middleware"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, jobHandler *handler.JobHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobs := r.Group("/jobs")
	jobs.GET("", jobHandler.List)
	jobs.POST("", jobHandler.Create)
	jobs.POST("/:id/toggle", jobHandler.Toggle)
	jobs.POST("/:id/run", jobHandler.RunNow)
	jobs.DELETE("/:id", jobHandler.Delete)
	jobs.GET("/:id/logs", jobHandler.ListLogs)

	r.GET("/workers", jobHandler.ListWorkers)

	return r
}
