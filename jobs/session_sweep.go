package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/sessions"
)

// SessionSweeper removes expired and revoked sessions in bulk.
type SessionSweeper struct {
	logger   *slog.Logger
	sessions *sessions.Manager
	metrics  *observability.Metrics
}

// NewSessionSweeper constructs a SessionSweeper. metrics may be nil.
func NewSessionSweeper(logger *slog.Logger, manager *sessions.Manager, metrics *observability.Metrics) *SessionSweeper {
	return &SessionSweeper{logger: logger, sessions: manager, metrics: metrics}
}

// Handle processes TaskSessionsSweep tasks.
func (s *SessionSweeper) Handle(ctx context.Context, t *asynq.Task) error {
	removed, err := s.sessions.Sweep(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", slog.Any("error", err))
		return err
	}
	s.metrics.ObserveSweep(removed)
	s.logger.Info("session sweep completed", slog.Int64("removed", removed))
	return nil
}
