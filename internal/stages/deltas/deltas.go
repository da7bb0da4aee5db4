// Package deltas compares a scan with the user's latest prior completed scan
// and maintains the daily streak.
package deltas

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"scanpipe/internal/logging"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// Comparator computes DeltaComparison values.
type Comparator struct {
	history        scan.History
	pageDays       int
	trendThreshold float64
	logger         *slog.Logger
}

var _ stage.Handler = (*Comparator)(nil)

// New builds the stage. pageDays sizes each history read while walking back
// for the streak (0 reads everything at once); trendThreshold is the body-fat
// change in percentage points that counts as a trend.
func New(history scan.History, pageDays int, trendThreshold float64, logger *slog.Logger) *Comparator {
	return &Comparator{
		history:        history,
		pageDays:       pageDays,
		trendThreshold: trendThreshold,
		logger:         logging.NewComponentLogger(logger, "delta-comparator"),
	}
}

func (c *Comparator) SetLogger(logger *slog.Logger) {
	c.logger = logging.NewComponentLogger(logger, "delta-comparator")
}

func (c *Comparator) Stage() scan.Stage { return scan.StageDeltaComparator }

func (c *Comparator) HealthCheck(context.Context) stage.Health {
	if c.history == nil {
		return stage.Unhealthy(scan.StageDeltaComparator, "scan history not configured")
	}
	return stage.Healthy(scan.StageDeltaComparator)
}

func (c *Comparator) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	est, err := stage.RequireEstimate(scan.StageDeltaComparator, sc)
	if err != nil {
		return scan.Patch{}, err
	}
	cmp, err := c.ComputeDeltas(ctx, sc.UserID, sc.Date, *est)
	if err != nil {
		return scan.Patch{}, err
	}
	return scan.Patch{Deltas: &cmp}.WithStatus(scan.StatusCompared), nil
}

// ComputeDeltas diffs against the latest completed scan strictly before
// date, however old. With none, the result is a baseline with nil deltas and
// a streak of one.
func (c *Comparator) ComputeDeltas(ctx context.Context, userID, date string, current scan.BodyEstimate) (scan.DeltaComparison, error) {
	latest, err := c.history.LatestCompletedBefore(ctx, userID, date)
	if err != nil {
		return scan.DeltaComparison{}, services.Wrap(services.ErrTransient, string(scan.StageDeltaComparator), "read history", "", err)
	}
	if latest == nil {
		return Baseline(), nil
	}

	streak, err := c.streakEnding(ctx, userID, date)
	if err != nil {
		return scan.DeltaComparison{}, err
	}

	cmp := scan.DeltaComparison{
		PriorScanID: latest.ID,
		PriorDate:   latest.Date,
		Streak:      streak,
		Trend:       scan.TrendSteady,
	}
	if latest.Estimate == nil {
		// A completed scan always has an estimate; without one there is nothing to diff.
		cmp.Trend = scan.TrendBaseline
		return cmp, nil
	}
	prev := latest.Estimate
	cmp.WeightDeltaKg = scan.Float64(round2(current.WeightKg - prev.WeightKg))
	cmp.BodyFatDelta = scan.Float64(round2(current.BodyFatPercent - prev.BodyFatPercent))
	cmp.LeanMassDeltaKg = scan.Float64(round2(current.LeanMassKg - prev.LeanMassKg))
	cmp.Trend = c.trend(*cmp.BodyFatDelta)

	c.logger.Debug("deltas computed",
		logging.String("prior_scan_id", latest.ID),
		logging.String("prior_date", latest.Date),
		logging.Int("streak", streak),
		logging.String("trend", cmp.Trend),
	)
	return cmp, nil
}

// streakEnding counts consecutive completed days ending at date. History is
// read one page at a time and the walk stops at the first gap.
func (c *Comparator) streakEnding(ctx context.Context, userID, date string) (int, error) {
	streak := 1
	expected := date
	before := date
	for {
		since := ""
		if c.pageDays > 0 {
			var err error
			if since, err = scan.AddDays(before, -c.pageDays); err != nil {
				return 0, services.Wrap(services.ErrInvalidInput, string(scan.StageDeltaComparator), "streak", "bad scan date", err)
			}
		}
		page, err := c.history.CompletedBefore(ctx, userID, before, since)
		if err != nil {
			return 0, services.Wrap(services.ErrTransient, string(scan.StageDeltaComparator), "read history", "", err)
		}
		for _, sc := range latestPerDate(page, before) {
			gap, err := scan.DaysBetween(sc.Date, expected)
			if err != nil {
				return 0, services.Wrap(services.ErrValidation, string(scan.StageDeltaComparator), "streak", "bad prior scan date", err)
			}
			if gap != 1 {
				return streak, nil
			}
			streak++
			expected = sc.Date
		}
		// Only a run that reaches the page's first day can continue into
		// the next page.
		if since == "" || expected != since {
			return streak, nil
		}
		before = since
	}
}

// Baseline is the comparison for a user's first completed scan.
func Baseline() scan.DeltaComparison {
	return scan.DeltaComparison{Baseline: true, Streak: 1, Trend: scan.TrendBaseline}
}

func (c *Comparator) trend(bodyFatDelta float64) string {
	switch {
	case bodyFatDelta <= -c.trendThreshold:
		return scan.TrendDown
	case bodyFatDelta >= c.trendThreshold:
		return scan.TrendUp
	default:
		return scan.TrendSteady
	}
}

// latestPerDate keeps one scan per earlier date, preferring the most recently
// updated, ordered newest date first.
func latestPerDate(scans []*scan.Scan, before string) []*scan.Scan {
	byDate := make(map[string]*scan.Scan, len(scans))
	for _, sc := range scans {
		if sc == nil || sc.Date >= before {
			continue
		}
		current, ok := byDate[sc.Date]
		if !ok || sc.UpdatedAt.After(current.UpdatedAt) ||
			(sc.UpdatedAt.Equal(current.UpdatedAt) && sc.ID > current.ID) {
			byDate[sc.Date] = sc
		}
	}
	out := make([]*scan.Scan, 0, len(byDate))
	for _, sc := range byDate {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
