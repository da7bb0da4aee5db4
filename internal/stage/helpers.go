package stage

import (
	"fmt"

	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// RequireEstimate returns the scan's estimate or an InvalidInput error naming
// the stage that needed it.
func RequireEstimate(stage scan.Stage, sc *scan.Scan) (*scan.BodyEstimate, error) {
	if sc == nil || sc.Estimate == nil {
		return nil, missingInput(stage, "estimate")
	}
	return sc.Estimate, nil
}

// RequireDeltas returns the scan's delta comparison.
func RequireDeltas(stage scan.Stage, sc *scan.Scan) (*scan.DeltaComparison, error) {
	if sc == nil || sc.Deltas == nil {
		return nil, missingInput(stage, "deltas")
	}
	return sc.Deltas, nil
}

func missingInput(stage scan.Stage, field string) error {
	return services.Wrap(
		services.ErrInvalidInput, string(stage), "load inputs",
		fmt.Sprintf("scan has no %s; earlier stage output missing", field), nil)
}
