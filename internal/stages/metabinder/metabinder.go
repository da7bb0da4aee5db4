// Package metabinder attaches the user's day log and fitness goals to the
// estimate. A missing day log or profile is not an error.
package metabinder

import (
	"context"
	"log/slog"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// Binder reads day context and merges it with the estimate.
type Binder struct {
	days   scan.DayContext
	logger *slog.Logger
}

var _ stage.Handler = (*Binder)(nil)

func New(days scan.DayContext, logger *slog.Logger) *Binder {
	return &Binder{days: days, logger: logging.NewComponentLogger(logger, "meta-binder")}
}

func (b *Binder) SetLogger(logger *slog.Logger) {
	b.logger = logging.NewComponentLogger(logger, "meta-binder")
}

func (b *Binder) Stage() scan.Stage { return scan.StageMetaBinder }

func (b *Binder) HealthCheck(context.Context) stage.Health {
	if b.days == nil {
		return stage.Unhealthy(scan.StageMetaBinder, "day context store not configured")
	}
	return stage.Healthy(scan.StageMetaBinder)
}

func (b *Binder) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	est, err := stage.RequireEstimate(scan.StageMetaBinder, sc)
	if err != nil {
		return scan.Patch{}, err
	}
	bound, err := b.BindContext(ctx, sc.UserID, sc.Date, *est)
	if err != nil {
		return scan.Patch{}, err
	}
	return scan.Patch{Context: &bound}.WithStatus(scan.StatusBound), nil
}

// BindContext is a pure read-merge of the day log and the profile.
func (b *Binder) BindContext(ctx context.Context, userID, date string, _ scan.BodyEstimate) (scan.BoundContext, error) {
	log, err := b.days.GetDayLog(ctx, userID, date)
	if err != nil {
		return scan.BoundContext{}, services.Wrap(services.ErrTransient, string(scan.StageMetaBinder), "read day log", "", err)
	}
	profile, err := b.days.GetUserProfile(ctx, userID)
	if err != nil {
		return scan.BoundContext{}, services.Wrap(services.ErrTransient, string(scan.StageMetaBinder), "read profile", "", err)
	}

	bound := scan.BoundContext{}
	if log != nil && !isEmptyLog(log) {
		cp := *log
		bound.DayLog = &cp
		bound.HasDayLog = true
	}
	if profile != nil {
		bound.Goal = profile.Goal
		bound.Level = profile.Level
		if profile.TargetWeightKg != nil {
			bound.TargetWeightKg = scan.Float64(*profile.TargetWeightKg)
		}
	}
	b.logger.Debug("day context bound",
		logging.Args(logging.DecisionAttrs("day_log", boolLabel(bound.HasDayLog), "day log lookup")...)...,
	)
	return bound, nil
}

// isEmptyLog treats a record with nothing logged as absent so the insight
// never refers to it.
func isEmptyLog(log *scan.DayLog) bool {
	return !log.HasWorkout() && !log.HasNutrition() &&
		log.SleepHours == 0 && log.WaterLiters == 0 && log.StepCount == 0 &&
		log.SelfReportedKg == nil && log.PerceivedEffort == 0 && log.Notes == ""
}

func boolLabel(v bool) string {
	if v {
		return "present"
	}
	return "absent"
}
