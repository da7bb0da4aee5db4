package gemini

import (
	"fmt"
	"strings"

	"scanpipe/internal/scan"
)

const estimateInstructions = `You estimate body composition from progress photos taken on the same day.
Use every angle provided. Be conservative when the photos are ambiguous and lower your confidence.

Respond ONLY with a JSON object like:
{"bodyFatPercent": 18.5, "leanMassKg": 63.9, "weightKg": 78.4, "confidence": 0.82}

bodyFatPercent is a percentage between 0 and 100, masses are kilograms, confidence is between 0 and 1.
Omit weightKg if you cannot judge it.`

func estimatePrompt(angles []string, prior *scan.BodyEstimate) string {
	var b strings.Builder
	b.WriteString(estimateInstructions)
	fmt.Fprintf(&b, "\n\nAngles: %s.", strings.Join(angles, ", "))
	if prior != nil {
		fmt.Fprintf(&b, "\nThe previous estimate for this person was %.1f%% body fat, %.1f kg lean mass, %.1f kg weight."+
			" Stay consistent with it unless the photos clearly show change.",
			prior.BodyFatPercent, prior.LeanMassKg, prior.WeightKg)
	}
	return b.String()
}
