package pipeline

import (
	"errors"

	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// Outcome is the result of one pipeline instance as seen by a caller.
type Outcome struct {
	Key         string
	Status      scan.Status
	Scan        *scan.Scan
	FailedStage scan.Stage
	Reason      string
	ErrorKind   services.ErrorKind
	// Degraded is set when the insight fell back to the template.
	Degraded bool
	// Err carries the classified stage error for failed and qc_failed runs.
	Err error
}

// Completed reports whether the scan finished and published.
func (o Outcome) Completed() bool {
	return o.Status == scan.StatusCompleted
}

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool {
	return o.Status.IsTerminal()
}

// outcomeFromScan rebuilds an outcome from the persisted record, restoring
// the error classification from the stored kind.
func outcomeFromScan(sc *scan.Scan) Outcome {
	if sc == nil {
		return Outcome{}
	}
	out := Outcome{
		Key:         sc.Key().String(),
		Status:      sc.Status,
		Scan:        sc.Clone(),
		FailedStage: sc.FailedStage,
		Reason:      sc.FailureReason,
		ErrorKind:   services.ErrorKind(sc.ErrorKind),
		Degraded:    sc.Insight != nil && sc.Insight.Degraded,
	}
	switch sc.Status {
	case scan.StatusFailed, scan.StatusQCFailed:
		out.Err = services.Wrap(markerForKind(out.ErrorKind), string(sc.FailedStage), "", sc.FailureReason, nil)
	}
	return out
}

func markerForKind(kind services.ErrorKind) error {
	switch kind {
	case services.KindInvalidInput:
		return services.ErrInvalidInput
	case services.KindBusinessRejection:
		return services.ErrBusinessRejection
	case services.KindTimeout:
		return services.ErrTimeout
	case services.KindValidation:
		return services.ErrValidation
	case services.KindPolicyDegradation:
		return services.ErrPolicyDegradation
	case services.KindNotFound:
		return services.ErrNotFound
	case services.KindConfiguration:
		return services.ErrConfiguration
	case services.KindCancelled:
		return services.ErrCancelled
	default:
		return services.ErrTransient
	}
}

func isInterruption(err error) bool {
	return errors.Is(err, errShutdown) || errors.Is(err, errLeaseLost)
}
