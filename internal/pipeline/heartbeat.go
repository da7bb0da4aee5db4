package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
)

// heartbeatLoop refreshes the run lease until ctx ends. Losing the lease
// cancels the run so two owners never write the same scan.
func (m *Manager) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, scanID string, cancelRun context.CancelCauseFunc, logger *slog.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	logger = logger.With(logging.String(logging.FieldComponent, "pipeline-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.store.Heartbeat(ctx, scanID, m.owner)
			switch {
			case err == nil:
			case errors.Is(err, scan.ErrLeaseLost):
				logger.Warn("run lease lost; abandoning instance",
					logging.Error(err),
					logging.String(logging.FieldEventType, "lease_lost"),
					logging.String(logging.FieldImpact, "another owner resumes the scan"),
				)
				cancelRun(errLeaseLost)
				return
			case errors.Is(err, context.Canceled):
				logger.Debug("heartbeat update cancelled")
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
