package insight

import (
	"fmt"
	"strings"
)

const systemPrompt = `You write the short daily summary a fitness app shows after a body scan.

Rules:
- Use only the facts provided. Never mention workouts, nutrition, sleep, prior scans, or target weight unless a fact line for it is present.
- Be encouraging but factual. No medical advice.
- Plain prose, no lists, no markdown, no emoji.
- At most %d words.`

func buildSystemPrompt(maxWords int) string {
	return fmt.Sprintf(systemPrompt, maxWords)
}

func buildUserPrompt(f facts) string {
	var b strings.Builder
	est := f.estimate
	fmt.Fprintf(&b, "Body fat: %.1f%%\n", est.BodyFatPercent)
	fmt.Fprintf(&b, "Lean mass: %.1f kg\n", est.LeanMassKg)
	fmt.Fprintf(&b, "Weight: %.1f kg\n", est.WeightKg)
	fmt.Fprintf(&b, "Estimate confidence: %.2f\n", est.Confidence)
	if f.hasHistory() {
		fmt.Fprintf(&b, "Change since previous scan on %s: body fat %+.1f points", f.deltas.PriorDate, *f.deltas.BodyFatDelta)
		if f.deltas.WeightDeltaKg != nil {
			fmt.Fprintf(&b, ", weight %+.1f kg", *f.deltas.WeightDeltaKg)
		}
		if f.deltas.LeanMassDeltaKg != nil {
			fmt.Fprintf(&b, ", lean mass %+.1f kg", *f.deltas.LeanMassDeltaKg)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("This is the user's first scan (baseline).\n")
	}
	fmt.Fprintf(&b, "Scan streak: %d day(s)\n", f.deltas.Streak)
	if f.hasWorkout() {
		fmt.Fprintf(&b, "Workout today: %s", strings.TrimSpace(f.log.Workout))
		if f.log.WorkoutMinutes > 0 {
			fmt.Fprintf(&b, " (%d min)", f.log.WorkoutMinutes)
		}
		b.WriteString("\n")
	}
	if f.hasNutrition() {
		fmt.Fprintf(&b, "Nutrition today: %d kcal, %d g protein\n", f.log.CaloriesKcal, f.log.ProteinGrams)
	}
	if f.hasSleep() {
		fmt.Fprintf(&b, "Sleep: %.1f h\n", f.log.SleepHours)
	}
	if f.goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", f.goal)
	}
	if f.level != "" {
		fmt.Fprintf(&b, "Experience level: %s\n", f.level)
	}
	if f.target != nil {
		fmt.Fprintf(&b, "Target weight: %.1f kg\n", *f.target)
	}
	return b.String()
}
