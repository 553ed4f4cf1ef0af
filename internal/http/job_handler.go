package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/secret-coffee/internal/scheduler"
)

// JobController is the part of the scheduler the operational API needs.
type JobController interface {
	Status() []scheduler.JobStatus
	RunJob(ctx context.Context, name string) error
}

type JobHandler struct {
	jobs      JobController
	now       func() time.Time
	logger    *slog.Logger
	responder responder
}

func NewJobHandler(jobs JobController, now func() time.Time, logger *slog.Logger) *JobHandler {
	if now == nil {
		now = time.Now
	}
	logger = defaultLogger(logger)
	return &JobHandler{jobs: jobs, now: now, logger: logger, responder: newResponder(logger)}
}

type jobListResponse struct {
	Jobs []scheduler.JobStatus `json:"jobs"`
}

type jobRunResponse struct {
	Job      string `json:"job"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.Status()
	if jobs == nil {
		jobs = []scheduler.JobStatus{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, jobListResponse{Jobs: jobs})
}

// Run executes name synchronously on the request context.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	logger := handlerLogger(ctx, h.logger, "JobHandler", "Run", "job", name)

	started := h.now()
	err := h.jobs.RunJob(ctx, name)
	duration := h.now().Sub(started)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "manual job run finished", "duration", duration.String())
		h.responder.writeJSON(ctx, w, http.StatusOK, jobRunResponse{Job: name, Status: "ok", Duration: duration.String()})
	case errors.Is(err, scheduler.ErrUnknownJob):
		h.responder.writeError(ctx, w, http.StatusNotFound, err)
	case errors.Is(err, scheduler.ErrJobRunning):
		h.responder.writeError(ctx, w, http.StatusConflict, err)
	default:
		h.responder.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			ErrorCode: "JOB_FAILED",
			Message:   err.Error(),
		})
	}
}
