package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scanpipe/internal/logging"
	"scanpipe/internal/metrics"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// ProcessScan runs (or attaches to) the pipeline instance for (userID, date)
// and blocks until it reaches a terminal state or ctx ends. A returned error
// means the instance could not run at all: invalid input, an unreachable
// store, or the caller leaving. Stage failures are reported in Outcome.
//
// The run itself is detached from ctx; a caller that gives up leaves the
// instance running for whoever attaches next.
func (m *Manager) ProcessScan(ctx context.Context, userID, date, scanID string) (Outcome, error) {
	key := scan.Key{UserID: strings.TrimSpace(userID), Date: strings.TrimSpace(date)}
	if err := key.Validate(); err != nil {
		return Outcome{Key: key.String()}, services.Wrap(services.ErrInvalidInput, "pipeline", "validate input", err.Error(), err)
	}
	if len(m.stageHandlers()) == 0 {
		return Outcome{Key: key.String()}, services.Wrap(services.ErrConfiguration, "pipeline", "process scan", "pipeline stages not configured", nil)
	}
	scanID = strings.TrimSpace(scanID)

	ch := m.group.DoChan(key.String(), func() (any, error) {
		return m.runInstance(key, scanID)
	})
	select {
	case res := <-ch:
		outcome, _ := res.Val.(Outcome)
		if res.Shared {
			m.logger.Debug("attached to in-flight instance", logging.String(logging.FieldInstanceKey, key.String()))
		}
		return outcome, res.Err
	case <-ctx.Done():
		return Outcome{Key: key.String()}, ctx.Err()
	}
}

func (m *Manager) runInstance(key scan.Key, scanID string) (Outcome, error) {
	ctx := services.WithInstanceKey(m.root, key.String())
	empty := Outcome{Key: key.String()}

	sc, err := m.loadScan(ctx, key, scanID)
	if err != nil {
		return empty, err
	}
	ctx = services.WithScanID(ctx, sc.ID)
	logger := logging.WithContext(ctx, m.logger).With(logging.Args(logging.InstanceAttrs(sc.UserID, sc.Date)...)...)

	for {
		if sc.IsTerminal() {
			return outcomeFromScan(sc), nil
		}
		claimed, err := m.store.Claim(ctx, sc.ID, m.owner, m.staleBefore())
		if err != nil {
			if ctx.Err() != nil {
				return empty, interruptionError(ctx)
			}
			return empty, services.Wrap(services.ErrTransient, "pipeline", "claim run lease", "", err)
		}
		if claimed {
			return m.runClaimed(ctx, sc, logger), nil
		}
		logger.Debug("instance owned by another process; waiting for it",
			logging.String("run_owner", sc.RunOwner),
		)
		if err := sleepContext(ctx, m.pollInterval); err != nil {
			return empty, interruptionError(ctx)
		}
		sc, err = m.store.GetByID(ctx, sc.ID)
		if err != nil {
			return empty, services.Wrap(services.ErrTransient, "pipeline", "reload scan", "", err)
		}
		if sc == nil {
			return empty, services.Wrap(services.ErrNotFound, "pipeline", "reload scan", "scan disappeared while waiting", nil)
		}
	}
}

func (m *Manager) loadScan(ctx context.Context, key scan.Key, scanID string) (*scan.Scan, error) {
	var (
		sc  *scan.Scan
		err error
	)
	if scanID != "" {
		sc, err = m.store.GetByID(ctx, scanID)
	} else {
		sc, err = m.store.Get(ctx, key.UserID, key.Date)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "load scan", "", err)
	}
	switch {
	case sc == nil && scanID != "":
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "load scan", fmt.Sprintf("unknown scan %s", scanID), nil)
	case sc == nil:
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "load scan", fmt.Sprintf("no scan for %s", key), nil)
	case sc.UserID != key.UserID || sc.Date != key.Date:
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "load scan",
			fmt.Sprintf("scan %s belongs to %s, not %s", sc.ID, sc.Key(), key), nil)
	case !sc.Authoritative:
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "load scan",
			fmt.Sprintf("scan %s was superseded by a retake", sc.ID), nil)
	case len(sc.AngleURLs) == 0:
		return nil, services.Wrap(services.ErrInvalidInput, "pipeline", "load scan", "scan has no photo URLs", nil)
	}
	return sc, nil
}

// runClaimed executes the stages while holding the run lease.
func (m *Manager) runClaimed(parent context.Context, sc *scan.Scan, logger *slog.Logger) Outcome {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	key := sc.Key().String()
	m.mu.Lock()
	m.instances[key] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.instances, key)
		m.mu.Unlock()
	}()

	metrics.InstanceStarted()
	defer metrics.InstanceFinished()
	defer m.releaseLease(ctx, sc.ID, logger)

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeatLoop(hbCtx, &hbWG, sc.ID, cancel, logger)

	started := time.Now()
	logger.Info("scan pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("resume_status", string(sc.Status)),
	)
	outcome := m.runStages(ctx, sc, logger)
	hbCancel()
	hbWG.Wait()

	m.finish(ctx, outcome, logger, time.Since(started))
	return outcome
}

func (m *Manager) runStages(ctx context.Context, sc *scan.Scan, logger *slog.Logger) Outcome {
	current := sc
	for _, handler := range m.stageHandlers() {
		stg := handler.Stage()
		if ctx.Err() != nil {
			return m.abort(ctx, current, stg, context.Cause(ctx), logger)
		}
		fresh, err := m.store.GetByID(ctx, current.ID)
		if err != nil {
			return m.abort(ctx, current, stg, services.Wrap(services.ErrTransient, string(stg), "reload scan", "", err), logger)
		}
		if fresh == nil {
			return Outcome{Key: current.Key().String(), Status: current.Status, Scan: current,
				Err: services.Wrap(services.ErrNotFound, string(stg), "reload scan", "scan disappeared mid-run", nil)}
		}
		current = fresh
		if current.IsTerminal() {
			logger.Info("scan reached a terminal state outside this run",
				logging.String("status", string(current.Status)),
				logging.String(logging.FieldEventType, "pipeline_preempted"),
			)
			return outcomeFromScan(current)
		}
		if stg.HasResult(current) {
			m.recordAttempt(ctx, scan.Attempt{ScanID: current.ID, Stage: stg, Outcome: scan.OutcomeSkipped,
				StartedAt: m.now(), FinishedAt: m.now()}, logger)
			metrics.ObserveAttempt(string(stg), scan.OutcomeSkipped, 0)
			logger.Debug("stage result already present; skipping", logging.String(logging.FieldStage, string(stg)))
			continue
		}

		updated, err := m.runStage(ctx, current, handler, logger)
		if err != nil {
			return m.abort(ctx, current, stg, err, logger)
		}
		current = updated
		m.setLastScan(current)
		if current.Status == scan.StatusQCFailed {
			return outcomeFromScan(current)
		}
	}
	return outcomeFromScan(current)
}

// abort turns a stage error or interruption into the persisted outcome.
// Operator cancels and ordinary failures write failed(stage, reason);
// shutdown and lease loss leave the scan resumable.
func (m *Manager) abort(ctx context.Context, sc *scan.Scan, stg scan.Stage, stageErr error, logger *slog.Logger) Outcome {
	persistCtx := context.WithoutCancel(ctx)

	if errors.Is(stageErr, scan.ErrTerminal) {
		if fresh, err := m.store.GetByID(persistCtx, sc.ID); err == nil && fresh != nil {
			return outcomeFromScan(fresh)
		}
	}

	cause := context.Cause(ctx)
	if ctx.Err() != nil && isInterruption(cause) {
		logger.Info("pipeline interrupted; scan left resumable",
			logging.String(logging.FieldStage, string(stg)),
			logging.String("cause", cause.Error()),
			logging.String(logging.FieldEventType, "pipeline_interrupted"),
		)
		out := outcomeFromScan(sc)
		out.Err = services.Wrap(services.ErrCancelled, string(stg), "run", cause.Error(), cause)
		out.ErrorKind = services.KindCancelled
		return out
	}

	var (
		reason string
		kind   services.ErrorKind
	)
	if ctx.Err() != nil && errors.Is(cause, errOperatorCancel) {
		reason = scan.OperatorCancelReason
		kind = services.KindCancelled
		stageErr = services.Wrap(services.ErrCancelled, string(stg), "run", reason, nil)
	} else {
		details := services.Details(stageErr)
		reason = failureReason(stg, stageErr)
		kind = details.Kind
		attrs := append([]logging.Attr{
			logging.String(logging.FieldStage, string(stg)),
			logging.String("failure_reason", reason),
			logging.Alert("stage_failure"),
			logging.String(logging.FieldEventType, "stage_failure"),
		}, logging.ErrorAttrs(stageErr)...)
		logger.Error("stage failed", logging.Args(attrs...)...)
		m.setLastError(stageErr)
	}

	failed, err := m.store.UpdateFields(persistCtx, sc.ID, scan.FailurePatch(scan.StatusFailed, stg, reason, string(kind)))
	if err != nil {
		if errors.Is(err, scan.ErrTerminal) && failed != nil {
			return outcomeFromScan(failed)
		}
		logger.Error("failed to persist stage failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "failure_persist_failed"),
			logging.String(logging.FieldErrorHint, "check scan store access; the scan will be retried when its lease expires"),
		)
		out := outcomeFromScan(sc)
		out.Status = scan.StatusFailed
		out.FailedStage = stg
		out.Reason = reason
		out.ErrorKind = kind
		out.Err = stageErr
		return out
	}
	out := outcomeFromScan(failed)
	out.Err = stageErr
	return out
}

func failureReason(stg scan.Stage, err error) string {
	if err == nil {
		return fmt.Sprintf("%s failed without error detail", stg)
	}
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = fmt.Sprintf("%s failed", stg)
	}
	return message
}

func interruptionError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return services.Wrap(services.ErrCancelled, "pipeline", "run", cause.Error(), cause)
}

func (m *Manager) staleBefore() time.Time {
	return m.now().Add(-m.heartbeatTimeout)
}

func (m *Manager) releaseLease(ctx context.Context, id string, logger *slog.Logger) {
	if err := m.store.Release(context.WithoutCancel(ctx), id, m.owner); err != nil {
		logger.Warn("failed to release run lease; it expires after the heartbeat timeout",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lease_release_failed"),
		)
	}
}
