package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// Submit starts the instance in the background and returns its key. The
// caller checks progress later with Outcome.
func (m *Manager) Submit(userID, date, scanID string) (string, error) {
	key := scan.Key{UserID: strings.TrimSpace(userID), Date: strings.TrimSpace(date)}
	if err := key.Validate(); err != nil {
		return "", services.Wrap(services.ErrInvalidInput, "pipeline", "validate input", err.Error(), err)
	}
	if m.root.Err() != nil {
		return "", services.Wrap(services.ErrCancelled, "pipeline", "submit", "pipeline is shutting down", nil)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.ProcessScan(m.root, key.UserID, key.Date, scanID); err != nil {
			if services.KindOf(err) == services.KindCancelled {
				return
			}
			attrs := append([]logging.Attr{
				logging.String(logging.FieldInstanceKey, key.String()),
			}, logging.ErrorAttrs(err)...)
			m.logger.Error("submitted scan could not run", logging.Args(attrs...)...)
			m.setLastError(err)
		}
	}()
	return key.String(), nil
}

// Outcome reports the current state of the authoritative scan for the key.
// Non-terminal outcomes mean the instance is still pending or running.
func (m *Manager) Outcome(ctx context.Context, userID, date string) (Outcome, error) {
	key := scan.Key{UserID: strings.TrimSpace(userID), Date: strings.TrimSpace(date)}
	if err := key.Validate(); err != nil {
		return Outcome{}, services.Wrap(services.ErrInvalidInput, "pipeline", "validate input", err.Error(), err)
	}
	sc, err := m.store.Get(ctx, key.UserID, key.Date)
	if err != nil {
		return Outcome{}, services.Wrap(services.ErrTransient, "pipeline", "load scan", "", err)
	}
	if sc == nil {
		return Outcome{Key: key.String()}, services.Wrap(services.ErrNotFound, "pipeline", "load scan", fmt.Sprintf("no scan for %s", key), nil)
	}
	return outcomeFromScan(sc), nil
}

// Cancel stops the instance for (userID, date). A run in this process is
// interrupted and records failed(stage, "cancelled by operator") itself; a
// scan idle or owned elsewhere is marked directly, and the owning run stops
// at its next write.
func (m *Manager) Cancel(ctx context.Context, userID, date string) error {
	key := scan.Key{UserID: strings.TrimSpace(userID), Date: strings.TrimSpace(date)}
	if err := key.Validate(); err != nil {
		return services.Wrap(services.ErrInvalidInput, "pipeline", "validate input", err.Error(), err)
	}
	m.mu.RLock()
	cancel := m.instances[key.String()]
	m.mu.RUnlock()
	if cancel != nil {
		cancel(errOperatorCancel)
		m.logger.Info("operator cancelled running instance",
			logging.String(logging.FieldInstanceKey, key.String()),
			logging.String(logging.FieldEventType, "operator_cancel"),
		)
		return nil
	}

	sc, err := m.store.Get(ctx, key.UserID, key.Date)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "load scan", "", err)
	}
	if sc == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "cancel", fmt.Sprintf("no scan for %s", key), nil)
	}
	if sc.IsTerminal() {
		return fmt.Errorf("%w: scan %s is %s", scan.ErrTerminal, sc.ID, sc.Status)
	}
	stg := currentStage(sc)
	_, err = m.store.UpdateFields(ctx, sc.ID,
		scan.FailurePatch(scan.StatusFailed, stg, scan.OperatorCancelReason, string(services.KindCancelled)))
	if err != nil {
		return err
	}
	m.logger.Info("operator cancelled idle scan",
		logging.String(logging.FieldInstanceKey, key.String()),
		logging.String(logging.FieldScanID, sc.ID),
		logging.String(logging.FieldStage, string(stg)),
		logging.String(logging.FieldEventType, "operator_cancel"),
	)
	return nil
}

// Retry requeues a failed scan. It resumes at the first missing field group
// when next processed.
func (m *Manager) Retry(ctx context.Context, userID, date string) (*scan.Scan, error) {
	key := scan.Key{UserID: strings.TrimSpace(userID), Date: strings.TrimSpace(date)}
	if err := key.Validate(); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "validate input", err.Error(), err)
	}
	sc, err := m.store.Get(ctx, key.UserID, key.Date)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "load scan", "", err)
	}
	if sc == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "retry", fmt.Sprintf("no scan for %s", key), nil)
	}
	if sc.Status != scan.StatusFailed {
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "retry",
			fmt.Sprintf("only failed scans can be retried; scan is %s", sc.Status), nil)
	}
	updated, err := m.store.UpdateFields(ctx, sc.ID, scan.Patch{ClearFailure: true}.WithStatus(sc.ResumeStatus()))
	if err != nil {
		if errors.Is(err, scan.ErrTerminal) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "pipeline", "retry", "", err)
	}
	m.logger.Info("scan requeued",
		logging.String(logging.FieldInstanceKey, key.String()),
		logging.String("resume_status", string(updated.Status)),
		logging.String(logging.FieldEventType, "scan_retry"),
	)
	return updated, nil
}

// currentStage is the running stage for in-progress statuses, else the first
// stage whose field group is missing.
func currentStage(sc *scan.Scan) scan.Stage {
	if stg, ok := scan.StageForStatus(sc.Status); ok {
		return stg
	}
	for _, stg := range scan.Stages() {
		if !stg.HasResult(sc) {
			return stg
		}
	}
	return scan.StagePrivacyPublisher
}
