package insight

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// renderer holds the per-call printer and caser; neither is safe to share
// between goroutines.
type renderer struct {
	printer *message.Printer
	titler  cases.Caser
}

// renderTemplate builds the deterministic summary. It only states facts that
// are present, so it always passes checkText.
func renderTemplate(f facts) string {
	r := renderer{printer: message.NewPrinter(language.English), titler: cases.Title(language.English)}
	return r.render(f)
}

func (r renderer) render(f facts) string {
	printer, titler := r.printer, r.titler
	est := f.estimate
	var parts []string

	if f.hasHistory() {
		parts = append(parts, r.historySentence(f))
	} else {
		parts = append(parts, printer.Sprintf(
			"Baseline scan recorded: %.1f%% body fat and %.1f kg lean mass at %.1f kg.",
			est.BodyFatPercent, est.LeanMassKg, est.WeightKg))
	}

	if f.deltas.Streak > 1 {
		parts = append(parts, printer.Sprintf("That makes a %d-day scan streak.", f.deltas.Streak))
	}

	if f.hasWorkout() {
		parts = append(parts, r.workoutSentence(f))
	}
	if f.hasNutrition() {
		parts = append(parts, r.nutritionSentence(f))
	}
	if f.hasSleep() {
		parts = append(parts, printer.Sprintf("You slept %.1f hours.", f.log.SleepHours))
	}

	if f.goal != "" {
		parts = append(parts, "Current goal: "+titler.String(f.goal)+".")
	}
	if f.target != nil && est.WeightKg > 0 {
		remaining := math.Abs(est.WeightKg - *f.target)
		if remaining < 0.05 {
			parts = append(parts, printer.Sprintf("You are at your target weight of %.1f kg.", *f.target))
		} else {
			parts = append(parts, printer.Sprintf("Target weight %.1f kg, %.1f kg to go.", *f.target, remaining))
		}
	}

	if est.Confidence > 0 && est.Confidence < 0.5 {
		parts = append(parts, "Estimate confidence is low; keep lighting and pose consistent next time.")
	}
	return strings.Join(parts, " ")
}

func (r renderer) historySentence(f facts) string {
	printer := r.printer
	est := f.estimate
	bf := *f.deltas.BodyFatDelta
	var head string
	switch {
	case bf < 0:
		head = printer.Sprintf("Body fat is down %.1f points since your last scan to %.1f%%", -bf, est.BodyFatPercent)
	case bf > 0:
		head = printer.Sprintf("Body fat is up %.1f points since your last scan to %.1f%%", bf, est.BodyFatPercent)
	default:
		head = printer.Sprintf("Body fat held at %.1f%% since your last scan", est.BodyFatPercent)
	}
	if lean := f.deltas.LeanMassDeltaKg; lean != nil && *lean != 0 {
		direction := "up"
		if *lean < 0 {
			direction = "down"
		}
		head += printer.Sprintf(", with lean mass %s %.1f kg", direction, math.Abs(*lean))
	}
	return head + "."
}

func (r renderer) workoutSentence(f facts) string {
	printer, titler := r.printer, r.titler
	name := strings.TrimSpace(f.log.Workout)
	switch {
	case name != "" && f.log.WorkoutMinutes > 0:
		return printer.Sprintf("Logged workout: %s, %d minutes.", titler.String(name), f.log.WorkoutMinutes)
	case name != "":
		return "Logged workout: " + titler.String(name) + "."
	default:
		return printer.Sprintf("Logged a %d-minute workout.", f.log.WorkoutMinutes)
	}
}

func (r renderer) nutritionSentence(f facts) string {
	printer := r.printer
	var items []string
	if f.log.CaloriesKcal > 0 {
		items = append(items, printer.Sprintf("%d kcal", f.log.CaloriesKcal))
	}
	if f.log.ProteinGrams > 0 {
		items = append(items, printer.Sprintf("%d g protein", f.log.ProteinGrams))
	}
	return "Nutrition logged: " + strings.Join(items, " and ") + "."
}
