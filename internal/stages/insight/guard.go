package insight

import (
	"fmt"
	"strings"
)

// Phrases that imply an input the scan does not have.
var (
	workoutTerms   = []string{"workout", "training", "trained", "exercise", "lifting", "session"}
	nutritionTerms = []string{"calorie", "kcal", "protein", "nutrition", "meal", "diet"}
	sleepTerms     = []string{"sleep", "slept"}
	historyTerms   = []string{"last scan", "previous scan", "since your last", "compared to", "compared with"}
	targetTerms    = []string{"target weight", "goal weight", "to go"}
)

// checkText rejects empty output and any mention of data that is absent.
func checkText(text string, f facts) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("insight text is empty")
	}
	lower := strings.ToLower(text)
	checks := []struct {
		present bool
		label   string
		terms   []string
	}{
		{f.hasWorkout(), "workout", workoutTerms},
		{f.hasNutrition(), "nutrition", nutritionTerms},
		{f.hasSleep(), "sleep", sleepTerms},
		{f.hasHistory(), "prior scan", historyTerms},
		{f.target != nil, "target weight", targetTerms},
	}
	for _, c := range checks {
		if c.present {
			continue
		}
		for _, term := range c.terms {
			if strings.Contains(lower, term) {
				return fmt.Errorf("insight mentions %s (%q) but none was recorded", c.label, term)
			}
		}
	}
	return nil
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
