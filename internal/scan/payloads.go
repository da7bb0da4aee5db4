package scan

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// QCResult is the VisionQC verdict. Immutable once written.
type QCResult struct {
	Passed        bool      `json:"passed"`
	Reasons       []string  `json:"reasons,omitempty"`
	CheckedAngles []string  `json:"checkedAngles,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// BodyEstimate is the AI-derived body composition.
type BodyEstimate struct {
	BodyFatPercent float64 `json:"bodyFatPercent"`
	LeanMassKg     float64 `json:"leanMassKg"`
	WeightKg       float64 `json:"weightKg"`
	Confidence     float64 `json:"confidence"`
	Model          string  `json:"model,omitempty"`
	UsedPrior      bool    `json:"usedPrior,omitempty"`
}

// Normalize derives WeightKg from lean mass and body fat when the service omitted it.
func (e *BodyEstimate) Normalize() {
	if e == nil || e.WeightKg > 0 {
		return
	}
	if e.LeanMassKg > 0 && e.BodyFatPercent >= 0 && e.BodyFatPercent < 100 {
		e.WeightKg = round2(e.LeanMassKg / (1 - e.BodyFatPercent/100))
	}
}

// Validate enforces the estimate range invariants.
func (e *BodyEstimate) Validate() error {
	if e == nil {
		return errors.New("estimate is missing")
	}
	var problems []error
	if !finite(e.BodyFatPercent) || e.BodyFatPercent < 0 || e.BodyFatPercent > 100 {
		problems = append(problems, fmt.Errorf("bodyFatPercent %v outside [0,100]", e.BodyFatPercent))
	}
	if !finite(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		problems = append(problems, fmt.Errorf("confidence %v outside [0,1]", e.Confidence))
	}
	if !finite(e.LeanMassKg) || e.LeanMassKg <= 0 {
		problems = append(problems, fmt.Errorf("leanMassKg %v must be positive", e.LeanMassKg))
	}
	if !finite(e.WeightKg) || e.WeightKg <= 0 {
		problems = append(problems, fmt.Errorf("weightKg %v must be positive", e.WeightKg))
	}
	if e.WeightKg > 0 && e.LeanMassKg > e.WeightKg {
		problems = append(problems, fmt.Errorf("leanMassKg %v exceeds weightKg %v", e.LeanMassKg, e.WeightKg))
	}
	return errors.Join(problems...)
}

// BoundContext merges the estimate with the user's day log and goals.
type BoundContext struct {
	DayLog         *DayLog  `json:"dayLog,omitempty"`
	HasDayLog      bool     `json:"hasDayLog"`
	Goal           string   `json:"goal,omitempty"`
	Level          string   `json:"level,omitempty"`
	TargetWeightKg *float64 `json:"targetWeightKg,omitempty"`
}

// Trend labels for DeltaComparison.
const (
	TrendBaseline = "baseline"
	TrendDown     = "down"
	TrendUp       = "up"
	TrendSteady   = "steady"
)

// DeltaComparison is the trend against the latest prior completed scan.
// With no prior scan every delta is nil, Baseline is true and Streak is 1.
type DeltaComparison struct {
	Baseline        bool     `json:"baseline"`
	PriorScanID     string   `json:"priorScanId,omitempty"`
	PriorDate       string   `json:"priorDate,omitempty"`
	WeightDeltaKg   *float64 `json:"weightDeltaKg"`
	BodyFatDelta    *float64 `json:"bodyFatDelta"`
	LeanMassDeltaKg *float64 `json:"leanMassDeltaKg"`
	Streak          int      `json:"streak"`
	Trend           string   `json:"trend"`
}

// Insight sources.
const (
	InsightSourceModel    = "model"
	InsightSourceTemplate = "template"
)

// InsightData is the narrative summary written for the user.
type InsightData struct {
	Text     string             `json:"text"`
	Source   string             `json:"source"`
	Degraded bool               `json:"degraded,omitempty"`
	Model    string             `json:"model,omitempty"`
	Figures  map[string]float64 `json:"figures,omitempty"`
}

// PublishedView is the privacy-filtered projection exposed to other users.
// Only UserID, Date and Active are always present.
type PublishedView struct {
	UserID          string    `json:"userId"`
	Date            string    `json:"date"`
	Active          bool      `json:"active"`
	Trend           string    `json:"trend,omitempty"`
	Streak          *int      `json:"streak,omitempty"`
	BodyFatDelta    *float64  `json:"bodyFatDelta,omitempty"`
	BodyFatPercent  *float64  `json:"bodyFatPercent,omitempty"`
	WeightKg        *float64  `json:"weightKg,omitempty"`
	WeightDeltaKg   *float64  `json:"weightDeltaKg,omitempty"`
	LeanMassKg      *float64  `json:"leanMassKg,omitempty"`
	LeanMassDeltaKg *float64  `json:"leanMassDeltaKg,omitempty"`
	Insight         string    `json:"insight,omitempty"`
	Badges          []string  `json:"badges,omitempty"`
	PublishedAt     time.Time `json:"publishedAt"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
