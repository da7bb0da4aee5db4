// Package bfestimator turns scan photos into a validated body-composition
// estimate using the configured vision service.
package bfestimator

import (
	"context"
	"log/slog"
	"strings"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// Service is a vision backend (visionapi or gemini).
type Service interface {
	Estimate(ctx context.Context, angles map[string]string, prior *scan.BodyEstimate) (*scan.BodyEstimate, error)
}

// Estimator validates service output and supplies the prior estimate.
type Estimator struct {
	service Service
	history scan.History
	logger  *slog.Logger
}

var _ stage.Handler = (*Estimator)(nil)

// New builds the stage. history may be nil, in which case no prior is sent.
func New(service Service, history scan.History, logger *slog.Logger) *Estimator {
	return &Estimator{
		service: service,
		history: history,
		logger:  logging.NewComponentLogger(logger, "bf-estimator"),
	}
}

func (e *Estimator) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, "bf-estimator")
}

func (e *Estimator) Stage() scan.Stage { return scan.StageBFEstimator }

func (e *Estimator) HealthCheck(context.Context) stage.Health {
	if e.service == nil {
		return stage.Unhealthy(scan.StageBFEstimator, "vision service not configured")
	}
	return stage.Healthy(scan.StageBFEstimator)
}

func (e *Estimator) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	prior, err := e.PriorEstimate(ctx, sc.UserID, sc.Date)
	if err != nil {
		return scan.Patch{}, err
	}
	est, err := e.Estimate(ctx, sc.AngleURLs, prior)
	if err != nil {
		return scan.Patch{}, err
	}
	return scan.Patch{Estimate: &est}.WithStatus(scan.StatusEstimated), nil
}

// PriorEstimate returns the estimate of the latest completed scan before
// date, however old, or nil.
func (e *Estimator) PriorEstimate(ctx context.Context, userID, date string) (*scan.BodyEstimate, error) {
	if e.history == nil {
		return nil, nil
	}
	prior, err := e.history.LatestCompletedBefore(ctx, userID, date)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, string(scan.StageBFEstimator), "prior lookup", "history read failed", err)
	}
	if prior == nil || prior.Estimate == nil {
		return nil, nil
	}
	cp := *prior.Estimate
	return &cp, nil
}

// Estimate calls the service and enforces the numeric contract. Out-of-range
// or incomplete results are validation errors and are never retried.
func (e *Estimator) Estimate(ctx context.Context, angles map[string]string, prior *scan.BodyEstimate) (scan.BodyEstimate, error) {
	if len(angles) == 0 {
		return scan.BodyEstimate{}, services.Wrap(services.ErrInvalidInput, string(scan.StageBFEstimator), "estimate", "no angle photos", nil)
	}
	if e.service == nil {
		return scan.BodyEstimate{}, services.Wrap(services.ErrConfiguration, string(scan.StageBFEstimator), "estimate", "vision service not configured", nil)
	}
	est, err := e.service.Estimate(ctx, angles, prior)
	if err != nil {
		return scan.BodyEstimate{}, err
	}
	if est == nil {
		return scan.BodyEstimate{}, services.Wrap(services.ErrValidation, string(scan.StageBFEstimator), "estimate", "service returned no estimate", nil)
	}
	out := *est
	out.UsedPrior = out.UsedPrior || prior != nil
	out.Normalize()
	measured := logging.MeasurementAttrs(out.BodyFatPercent, out.LeanMassKg, out.WeightKg, out.Confidence)
	if err := out.Validate(); err != nil {
		attrs := append([]logging.Attr{
			logging.String(logging.FieldEventType, "estimate_invalid"),
			logging.String(logging.FieldErrorHint, "inspect the vision service response"),
			logging.String(logging.FieldImpact, "scan fails at estimation"),
			logging.String("validation", strings.ReplaceAll(err.Error(), "\n", "; ")),
		}, measured...)
		e.logger.Warn("estimate rejected", logging.Args(attrs...)...)
		return scan.BodyEstimate{}, services.Wrap(services.ErrValidation, string(scan.StageBFEstimator), "validate estimate",
			strings.ReplaceAll(err.Error(), "\n", "; "), err)
	}
	e.logger.Debug("estimate accepted", logging.Args(append(measured, logging.Bool("used_prior", out.UsedPrior))...)...)
	return out, nil
}
