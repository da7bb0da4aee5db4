package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// Start begins background processing of runnable scans.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.schedule(runCtx)
	return nil
}

// Stop terminates the scheduler, interrupts in-flight instances (leaving them
// resumable) and waits for them to unwind.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.rootCancel(errShutdown)
	m.wg.Wait()
}

func (m *Manager) schedule(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldComponent, "pipeline-scheduler"))
	logger.Info("scheduler started",
		logging.Int("workers", m.workers),
		logging.Duration("poll_interval", m.pollInterval),
	)

	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := m.store.Runnable(ctx, m.staleBefore(), m.workers)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to list runnable scans",
				logging.Error(err),
				logging.String(logging.FieldEventType, "runnable_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check scan store access"),
			)
			m.wait(ctx)
			continue
		}
		if len(batch) == 0 {
			m.wait(ctx)
			continue
		}

		var g errgroup.Group
		g.SetLimit(m.workers)
		for _, sc := range batch {
			g.Go(func() error {
				outcome, err := m.ProcessScan(ctx, sc.UserID, sc.Date, sc.ID)
				switch {
				case err == nil:
					logger.Debug("scheduled instance finished",
						logging.String(logging.FieldInstanceKey, outcome.Key),
						logging.String("status", string(outcome.Status)),
					)
				case ctx.Err() != nil || services.KindOf(err) == services.KindCancelled:
				case services.KindOf(err) == services.KindInvalidInput:
					m.rejectInvalid(ctx, sc, err, logger)
				default:
					attrs := append([]logging.Attr{
						logging.String(logging.FieldScanID, sc.ID),
					}, logging.ErrorAttrs(err)...)
					logger.Warn("scheduled instance could not run", logging.Args(attrs...)...)
					m.setLastError(err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// rejectInvalid fails a stored scan that can never run so the scheduler does
// not pick it up again.
func (m *Manager) rejectInvalid(ctx context.Context, sc *scan.Scan, cause error, logger *slog.Logger) {
	reason := services.Details(cause).Message
	_, err := m.store.UpdateFields(ctx, sc.ID,
		scan.FailurePatch(scan.StatusFailed, currentStage(sc), reason, string(services.KindInvalidInput)))
	if err != nil && !errors.Is(err, scan.ErrTerminal) {
		logger.Warn("failed to mark invalid scan", logging.String(logging.FieldScanID, sc.ID), logging.Error(err))
		return
	}
	logger.Warn("scan cannot be processed; marked failed",
		logging.String(logging.FieldScanID, sc.ID),
		logging.String("failure_reason", reason),
		logging.String(logging.FieldEventType, "scan_invalid"),
	)
}

func (m *Manager) wait(ctx context.Context) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
