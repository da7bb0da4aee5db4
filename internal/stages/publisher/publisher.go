// Package publisher projects a finished scan through the user's privacy
// settings. A missing privacy record shares nothing beyond activity.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// ProfileReader loads a user profile. Publish needs the backend itself, not a
// cache: a toggle the user just switched off must already be off.
type ProfileReader interface {
	GetUserProfile(ctx context.Context, userID string) (*scan.Profile, error)
}

// Publisher implements the privacy publication stage.
type Publisher struct {
	profiles ProfileReader
	logger   *slog.Logger
	now      func() time.Time
}

var _ stage.Handler = (*Publisher)(nil)

func New(profiles ProfileReader, logger *slog.Logger) *Publisher {
	return &Publisher{
		profiles: profiles,
		logger:   logging.NewComponentLogger(logger, "privacy-publisher"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) SetLogger(logger *slog.Logger) {
	p.logger = logging.NewComponentLogger(logger, "privacy-publisher")
}

func (p *Publisher) Stage() scan.Stage { return scan.StagePrivacyPublisher }

func (p *Publisher) HealthCheck(context.Context) stage.Health {
	if p.profiles == nil {
		return stage.Unhealthy(scan.StagePrivacyPublisher, "profile store not configured")
	}
	return stage.Healthy(scan.StagePrivacyPublisher)
}

// Run returns the view together with status completed so the store writes
// both in one operation.
func (p *Publisher) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	if _, err := stage.RequireEstimate(scan.StagePrivacyPublisher, sc); err != nil {
		return scan.Patch{}, err
	}
	if _, err := stage.RequireDeltas(scan.StagePrivacyPublisher, sc); err != nil {
		return scan.Patch{}, err
	}
	if sc.Insight == nil {
		return scan.Patch{}, services.Wrap(services.ErrInvalidInput, string(scan.StagePrivacyPublisher), "load inputs",
			"scan has no insight; earlier stage output missing", nil)
	}
	view, err := p.Publish(ctx, sc.UserID, sc)
	if err != nil {
		return scan.Patch{}, err
	}
	return scan.Patch{PublishedView: &view}.WithStatus(scan.StatusCompleted), nil
}

// Publish reads the user's privacy settings and builds the view.
func (p *Publisher) Publish(ctx context.Context, userID string, sc *scan.Scan) (scan.PublishedView, error) {
	profile, err := p.profiles.GetUserProfile(ctx, userID)
	if err != nil {
		return scan.PublishedView{}, services.Wrap(services.ErrTransient, string(scan.StagePrivacyPublisher), "read privacy settings", "", err)
	}
	var (
		privacy *scan.PrivacySettings
		badges  []string
	)
	if profile != nil {
		privacy = profile.Privacy
		badges = profile.Badges
	}
	if privacy == nil {
		p.logger.Debug("no privacy record, publishing activity only",
			logging.Args(logging.DecisionAttrs("privacy_projection", "restricted", "no privacy settings")...)...)
	}
	view := Project(userID, sc, privacy, badges)
	view.PublishedAt = p.now()
	return view, nil
}

// Project builds the view for the given toggles. Every optional field is
// copied only when its toggle is set; nil settings share nothing.
func Project(userID string, sc *scan.Scan, privacy *scan.PrivacySettings, badges []string) scan.PublishedView {
	view := scan.PublishedView{UserID: userID, Date: sc.Date, Active: true}
	if privacy == nil {
		return view
	}
	est := sc.Estimate
	deltas := sc.Deltas

	if privacy.ShowTrend && deltas != nil {
		view.Trend = deltas.Trend
		view.Streak = scan.Int(deltas.Streak)
		view.BodyFatDelta = copyFloat(deltas.BodyFatDelta)
	}
	if privacy.ShowWeight {
		if est != nil {
			view.WeightKg = scan.Float64(est.WeightKg)
		}
		if deltas != nil {
			view.WeightDeltaKg = copyFloat(deltas.WeightDeltaKg)
		}
	}
	if privacy.ShowLeanMass {
		if est != nil {
			view.LeanMassKg = scan.Float64(est.LeanMassKg)
		}
		if deltas != nil {
			view.LeanMassDeltaKg = copyFloat(deltas.LeanMassDeltaKg)
		}
	}
	if privacy.ShowBodyFat && est != nil {
		view.BodyFatPercent = scan.Float64(est.BodyFatPercent)
	}
	if privacy.ShowLastInsight && sc.Insight != nil {
		view.Insight = sc.Insight.Text
	}
	if privacy.ShowBadges && len(badges) > 0 {
		view.Badges = append([]string(nil), badges...)
	}
	return view
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return scan.Float64(*v)
}
