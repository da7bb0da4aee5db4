package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scanpipe/internal/logging"
	"scanpipe/internal/metrics"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// runStage drives one stage through the retry policy and persists its field
// group. The returned scan is the store's view after the write.
func (m *Manager) runStage(ctx context.Context, sc *scan.Scan, handler stage.Handler, logger *slog.Logger) (*scan.Scan, error) {
	stg := handler.Stage()
	stageLogger := logger.With(logging.String(logging.FieldStage, string(stg)))

	if _, err := m.store.UpdateFields(ctx, sc.ID, scan.StatusPatch(stg.RunningStatus())); err != nil {
		if errors.Is(err, scan.ErrTerminal) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, string(stg), "mark running", "", err)
	}
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.RunningStatus())),
	)

	for attempt := 1; ; attempt++ {
		started := m.now()
		attemptStart := time.Now()
		updated, err := m.attempt(ctx, sc, handler, attempt)
		elapsed := time.Since(attemptStart)

		if err == nil {
			outcome := scan.OutcomeSucceeded
			if updated.Status == scan.StatusQCFailed {
				outcome = scan.OutcomeRejected
			}
			m.recordAttempt(ctx, scan.Attempt{ScanID: sc.ID, Stage: stg, Attempt: attempt, Outcome: outcome,
				StartedAt: started, FinishedAt: m.now()}, stageLogger)
			metrics.ObserveAttempt(string(stg), outcome, elapsed)
			stageLogger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.String("next_status", string(updated.Status)),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("stage_duration", time.Since(stageStart)),
			)
			return updated, nil
		}
		if ctx.Err() != nil || errors.Is(err, scan.ErrTerminal) {
			// Results of an interrupted attempt are discarded.
			return nil, err
		}

		wait, retry := m.policy.Next(attempt, err)
		details := services.Details(err)
		outcome := scan.OutcomeFailed
		if retry {
			outcome = scan.OutcomeRetrying
		}
		m.recordAttempt(ctx, scan.Attempt{ScanID: sc.ID, Stage: stg, Attempt: attempt, Outcome: outcome,
			ErrorKind: string(details.Kind), Message: failureReason(stg, err), Backoff: wait,
			StartedAt: started, FinishedAt: m.now()}, stageLogger)
		metrics.ObserveAttempt(string(stg), outcome, elapsed)

		if !retry {
			if degraded, ok := m.degrade(ctx, sc, handler, err, attempt, stageLogger); ok {
				return degraded, nil
			}
			return nil, err
		}
		attrs := append([]logging.Attr{
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("backoff", wait),
		}, logging.ErrorAttrs(err)...)
		logging.WarnWithContext(stageLogger, "stage attempt failed; retrying", "stage_retry", attrs...)
		if err := m.sleep(ctx, wait); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			return nil, err
		}
	}
}

// attempt runs the handler once under the stage timeout and persists the
// returned patch.
func (m *Manager) attempt(ctx context.Context, sc *scan.Scan, handler stage.Handler, attempt int) (*scan.Scan, error) {
	stg := handler.Stage()
	timeout := m.cfg.StageTimeout(string(stg))
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	attemptCtx = services.WithStage(services.WithAttempt(attemptCtx, attempt), string(stg))

	patch, err := handler.Run(attemptCtx, sc.Clone())
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
			err = services.Wrap(services.ErrTimeout, string(stg), "run", fmt.Sprintf("attempt exceeded %s", timeout), err)
		}
		return nil, err
	}
	if err := checkPatch(stg, &patch); err != nil {
		return nil, err
	}
	updated, err := m.store.UpdateFields(ctx, sc.ID, patch)
	if err != nil {
		if errors.Is(err, scan.ErrTerminal) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, string(stg), "persist result", "", err)
	}
	return updated, nil
}

// checkPatch enforces that a stage writes exactly its own field group and
// fills in the stage's done status when the handler left it unset.
func checkPatch(stg scan.Stage, patch *scan.Patch) error {
	if err := patch.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, string(stg), "check result", err.Error(), err)
	}
	groups := patch.FieldGroups()
	if len(groups) != 1 || groups[0] != stg {
		return services.Wrap(services.ErrValidation, string(stg), "check result",
			fmt.Sprintf("stage returned field groups %v", groups), nil)
	}
	if patch.Status == nil {
		*patch = patch.WithStatus(stg.DoneStatus())
	}
	return nil
}

func (m *Manager) degrade(ctx context.Context, sc *scan.Scan, handler stage.Handler, cause error, attempt int, logger *slog.Logger) (*scan.Scan, bool) {
	degrader, ok := handler.(stage.Degrader)
	if !ok {
		return nil, false
	}
	stg := handler.Stage()
	patch, ok := degrader.Degrade(ctx, sc.Clone(), cause)
	if !ok {
		return nil, false
	}
	if err := checkPatch(stg, &patch); err != nil {
		logger.Error("degraded result rejected", logging.Error(err))
		return nil, false
	}
	updated, err := m.store.UpdateFields(ctx, sc.ID, patch)
	if err != nil {
		logger.Error("failed to persist degraded result", logging.Error(err))
		return nil, false
	}
	m.recordAttempt(ctx, scan.Attempt{ScanID: sc.ID, Stage: stg, Attempt: attempt, Outcome: scan.OutcomeDegraded,
		ErrorKind: string(services.KindPolicyDegradation), Message: failureReason(stg, cause),
		StartedAt: m.now(), FinishedAt: m.now()}, logger)
	metrics.ObserveAttempt(string(stg), scan.OutcomeDegraded, 0)
	return updated, true
}

func (m *Manager) recordAttempt(ctx context.Context, attempt scan.Attempt, logger *slog.Logger) {
	if err := m.store.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		logger.Warn("failed to record stage attempt",
			logging.Error(err),
			logging.String(logging.FieldEventType, "attempt_record_failed"),
			logging.String(logging.FieldImpact, "attempt audit trail incomplete"),
		)
	}
}
