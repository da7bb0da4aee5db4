package insight

import (
	"strings"

	"scanpipe/internal/scan"
)

// facts is the subset of scan data an insight may talk about. Zero values
// and nil pointers mean the input is absent and must not be mentioned.
type facts struct {
	estimate scan.BodyEstimate
	deltas   scan.DeltaComparison
	log      *scan.DayLog
	goal     string
	level    string
	target   *float64
}

func newFacts(est scan.BodyEstimate, deltas scan.DeltaComparison, bound scan.BoundContext) facts {
	f := facts{
		estimate: est,
		deltas:   deltas,
		goal:     strings.TrimSpace(bound.Goal),
		level:    strings.TrimSpace(bound.Level),
		target:   bound.TargetWeightKg,
	}
	if bound.HasDayLog && bound.DayLog != nil {
		f.log = bound.DayLog
	}
	return f
}

func (f facts) hasHistory() bool {
	return !f.deltas.Baseline && f.deltas.BodyFatDelta != nil
}

func (f facts) hasWorkout() bool {
	return f.log.HasWorkout()
}

func (f facts) hasNutrition() bool {
	return f.log.HasNutrition()
}

func (f facts) hasSleep() bool {
	return f.log != nil && f.log.SleepHours > 0
}

// figures records the numbers the insight was derived from.
func (f facts) figures() map[string]float64 {
	out := map[string]float64{
		"bodyFatPercent": f.estimate.BodyFatPercent,
		"leanMassKg":     f.estimate.LeanMassKg,
		"weightKg":       f.estimate.WeightKg,
		"confidence":     f.estimate.Confidence,
		"streak":         float64(f.deltas.Streak),
	}
	if f.deltas.BodyFatDelta != nil {
		out["bodyFatDelta"] = *f.deltas.BodyFatDelta
	}
	if f.deltas.WeightDeltaKg != nil {
		out["weightDeltaKg"] = *f.deltas.WeightDeltaKg
	}
	if f.deltas.LeanMassDeltaKg != nil {
		out["leanMassDeltaKg"] = *f.deltas.LeanMassDeltaKg
	}
	if f.target != nil {
		out["targetWeightKg"] = *f.target
	}
	if f.hasWorkout() && f.log.WorkoutMinutes > 0 {
		out["workoutMinutes"] = float64(f.log.WorkoutMinutes)
	}
	if f.hasNutrition() {
		if f.log.CaloriesKcal > 0 {
			out["caloriesKcal"] = float64(f.log.CaloriesKcal)
		}
		if f.log.ProteinGrams > 0 {
			out["proteinGrams"] = float64(f.log.ProteinGrams)
		}
	}
	if f.hasSleep() {
		out["sleepHours"] = f.log.SleepHours
	}
	return out
}
