package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scanpipe/internal/logging"
	"scanpipe/internal/metrics"
	"scanpipe/internal/notifications"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

const notifyTimeout = 10 * time.Second

// finish records metrics, reports failures, and fans out the outcome.
func (m *Manager) finish(ctx context.Context, outcome Outcome, logger *slog.Logger, elapsed time.Duration) {
	if !outcome.Terminal() {
		return
	}
	metrics.ObserveOutcome(string(outcome.Status))
	logger.Info("scan pipeline finished",
		logging.String("status", string(outcome.Status)),
		logging.String("failed_stage", string(outcome.FailedStage)),
		logging.Bool("degraded", outcome.Degraded),
		logging.Duration("pipeline_duration", elapsed),
		logging.String(logging.FieldEventType, "pipeline_complete"),
	)

	if outcome.Status == scan.StatusFailed {
		m.reporter.CaptureFailure(ctx, outcome.Scan, outcome.FailedStage, outcome.Err)
	}
	if outcome.ErrorKind == services.KindCancelled {
		return
	}

	event, payload := outcomeNotification(outcome)
	if event == "" {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := m.notifier.Publish(notifyCtx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("outcome notification cancelled")
			return
		}
		logger.Warn("outcome notification failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldImpact, "subscribers miss this outcome"),
		)
	}
}

func outcomeNotification(outcome Outcome) (notifications.Event, notifications.Payload) {
	sc := outcome.Scan
	if sc == nil {
		return "", nil
	}
	payload := notifications.Payload{
		"scanId": sc.ID,
		"userId": sc.UserID,
		"date":   sc.Date,
		"status": string(outcome.Status),
	}
	switch outcome.Status {
	case scan.StatusCompleted:
		payload["degraded"] = outcome.Degraded
		return notifications.EventScanCompleted, payload
	case scan.StatusQCFailed:
		payload["reason"] = outcome.Reason
		return notifications.EventScanRejected, payload
	case scan.StatusFailed:
		payload["stage"] = string(outcome.FailedStage)
		payload["reason"] = outcome.Reason
		payload["errorKind"] = string(outcome.ErrorKind)
		return notifications.EventScanFailed, payload
	}
	return "", nil
}
