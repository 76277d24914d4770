package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/aegis-platform/aegis-iam/internal/platform/httpx"
)

// SweepEnqueuer submits on-demand session sweeps to the queue.
type SweepEnqueuer interface {
	EnqueueSessionsSweep(ctx context.Context) (*asynq.TaskInfo, error)
}

var _ SweepEnqueuer = (*Client)(nil)

// Guard wraps route-level permission checks.
type Guard interface {
	RequireAll(permissions ...string) func(http.Handler) http.Handler
}

// Handler exposes maintenance endpoints backed by the job queue.
type Handler struct {
	logger   *slog.Logger
	enqueuer SweepEnqueuer
	guard    Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, enqueuer SweepEnqueuer, guard Guard) *Handler {
	return &Handler{logger: logger, enqueuer: enqueuer, guard: guard}
}

// MountRoutes registers maintenance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll("admin:access"))
		r.Post("/admin/sessions/sweep", h.sweep)
	})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	info, err := h.enqueuer.EnqueueSessionsSweep(r.Context())
	if err != nil {
		h.logger.Error("sweep enqueue failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("sweep enqueued", "task_id", info.ID)
	httpx.JSON(w, http.StatusAccepted, map[string]any{"enqueued": true, "task_id": info.ID})
}
