package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checker   HealthChecker
	timeout   time.Duration
	logger    *slog.Logger
	responder responder
}

// NewHealthHandler bounds each check by timeout; zero means two seconds.
func NewHealthHandler(checker HealthChecker, timeout time.Duration, logger *slog.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	logger = defaultLogger(logger)
	return &HealthHandler{
		checker:   checker,
		timeout:   timeout,
		logger:    logger,
		responder: newResponder(logger),
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checker != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.checker.Ping(pingCtx); err != nil {
			handlerLogger(ctx, h.logger, "HealthHandler", "Check").WarnContext(ctx, "health check failed", "error", err)
			h.responder.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
				ErrorCode: "UNAVAILABLE",
				Message:   err.Error(),
			})
			return
		}
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, healthResponse{Status: "ok"})
}
