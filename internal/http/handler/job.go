package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/usecase"
)

// JobHandler exposes JobUsecase's operations as the Control Plane's HTTP
// surface — there is no authentication concept in this system, every
// route is open on the listener it's bound to.
type JobHandler struct {
	jobs   *usecase.JobUsecase
	logger *slog.Logger
}

func NewJobHandler(jobs *usecase.JobUsecase, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger.With("component", "job_handler")}
}

type jobView struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	ScriptPath      string     `json:"script_path"`
	ScriptArgs      string     `json:"script_args"`
	ScheduleType    string     `json:"schedule_type"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	ScheduleTime    string     `json:"schedule_time,omitempty"`
	ScheduleDay     *int       `json:"schedule_day,omitempty"`
	Recurrence      string     `json:"recurrence"`
	IsActive        bool       `json:"is_active"`
	NextRun         *time.Time `json:"next_run,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toJobView(v usecase.JobView) jobView {
	return jobView{
		ID:              v.ID,
		Name:            v.Name,
		ScriptPath:      v.ScriptPath,
		ScriptArgs:      v.ScriptArgs,
		ScheduleType:    string(v.ScheduleType),
		IntervalSeconds: v.IntervalSeconds,
		ScheduleTime:    v.ScheduleTime,
		ScheduleDay:     v.ScheduleDay,
		Recurrence:      v.Recurrence,
		IsActive:        v.IsActive,
		NextRun:         v.NextRun,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

// List returns every job, optionally filtered by ?search= (a case
// insensitive substring match on name).
func (h *JobHandler) List(ctx *gin.Context) {
	views, err := h.jobs.ListJobs(ctx.Request.Context(), ctx.Query("search"))
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := make([]jobView, len(views))
	for i, v := range views {
		resp[i] = toJobView(v)
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": resp})
}

type createJobRequest struct {
	Name            string `json:"name" binding:"required"`
	ScriptPath      string `json:"script_path" binding:"required"`
	ScriptArgs      string `json:"script_args"`
	ScheduleType    string `json:"schedule_type" binding:"required"`
	IntervalSeconds int    `json:"interval_seconds"`
	ScheduleTime    string `json:"schedule_time"`
	ScheduleDay     *int   `json:"schedule_day"`
}

// Create validates and inserts a new scheduled job.
func (h *JobHandler) Create(ctx *gin.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.CreateJob(ctx.Request.Context(), usecase.CreateJobInput{
		Name:            req.Name,
		ScriptPath:      req.ScriptPath,
		ScriptArgs:      req.ScriptArgs,
		ScheduleType:    domain.ScheduleType(req.ScheduleType),
		IntervalSeconds: req.IntervalSeconds,
		ScheduleTime:    req.ScheduleTime,
		ScheduleDay:     req.ScheduleDay,
	})
	if err != nil {
		h.writeJobError(ctx, "create job", err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"job": job})
}

// Toggle flips a job's active flag.
func (h *JobHandler) Toggle(ctx *gin.Context) {
	id, err := parseJobID(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJob})
		return
	}

	job, err := h.jobs.ToggleActive(ctx.Request.Context(), id)
	if err != nil {
		h.writeJobError(ctx, "toggle job", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"job": job})
}

// RunNow forces the job onto the scheduler's next pass.
func (h *JobHandler) RunNow(ctx *gin.Context) {
	id, err := parseJobID(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJob})
		return
	}

	if err := h.jobs.RunNow(ctx.Request.Context(), id); err != nil {
		h.writeJobError(ctx, "run job now", err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

// Delete removes a job and its execution logs.
func (h *JobHandler) Delete(ctx *gin.Context) {
	id, err := parseJobID(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJob})
		return
	}

	if err := h.jobs.DeleteJob(ctx.Request.Context(), id); err != nil {
		h.writeJobError(ctx, "delete job", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

type logView struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	RunTime   time.Time `json:"run_time"`
	Status    string    `json:"status"`
	LogOutput string    `json:"log_output"`
}

// ListLogs returns a job's most recent execution logs, newest first.
func (h *JobHandler) ListLogs(ctx *gin.Context) {
	id, err := parseJobID(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJob})
		return
	}

	limit, _ := strconv.Atoi(ctx.Query("limit"))
	logs, err := h.jobs.ListLogs(ctx.Request.Context(), id, limit)
	if err != nil {
		h.writeJobError(ctx, "list logs", err)
		return
	}

	resp := make([]logView, len(logs))
	for i, l := range logs {
		resp[i] = logView{ID: l.ID, JobID: l.JobID, RunTime: l.RunTime, Status: string(l.Status), LogOutput: l.LogOutput}
	}
	ctx.JSON(http.StatusOK, gin.H{"logs": resp})
}

// ListWorkers returns every live worker registration — the read-only
// endpoint the UI polls for fleet status.
func (h *JobHandler) ListWorkers(ctx *gin.Context) {
	result, err := h.jobs.WorkerStatus(ctx.Request.Context())
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "worker status", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"workers":       result.Workers,
		"live_count":    result.LiveCount,
		"primary_index": result.PrimaryIndex,
	})
}

func (h *JobHandler) writeJobError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
	case errors.Is(err, domain.ErrScriptNotFound):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errScriptNotFound})
	case errors.Is(err, domain.ErrJobInactive):
		ctx.JSON(http.StatusConflict, gin.H{"error": errJobInactive})
	case errors.Is(err, domain.ErrInvalidJob):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}

func parseJobID(ctx *gin.Context) (int64, error) {
	return strconv.ParseInt(ctx.Param("id"), 10, 64)
}
