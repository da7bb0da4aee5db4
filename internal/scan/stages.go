package scan

// Stage names a pipeline step. Values double as log fields, config keys, and
// persisted failed_stage values.
type Stage string

const (
	StageVisionQC         Stage = "vision_qc"
	StageBFEstimator      Stage = "bf_estimator"
	StageMetaBinder       Stage = "meta_binder"
	StageDeltaComparator  Stage = "delta_comparator"
	StageInsightWriter    Stage = "insight_writer"
	StagePrivacyPublisher Stage = "privacy_publisher"
)

type stageSpec struct {
	stage   Stage
	running Status
	done    Status
	has     func(*Scan) bool
}

var stages = []stageSpec{
	{StageVisionQC, StatusQCInProgress, StatusQCPassed, func(s *Scan) bool { return s.QC != nil }},
	{StageBFEstimator, StatusEstimating, StatusEstimated, func(s *Scan) bool { return s.Estimate != nil }},
	{StageMetaBinder, StatusBinding, StatusBound, func(s *Scan) bool { return s.Context != nil }},
	{StageDeltaComparator, StatusComparing, StatusCompared, func(s *Scan) bool { return s.Deltas != nil }},
	{StageInsightWriter, StatusWritingInsight, StatusInsightWritten, func(s *Scan) bool { return s.Insight != nil }},
	{StagePrivacyPublisher, StatusPublishing, StatusCompleted, func(s *Scan) bool { return s.PublishedView != nil }},
}

// Stages returns the fixed pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	for i, spec := range stages {
		out[i] = spec.stage
	}
	return out
}

func lookupStage(stage Stage) (stageSpec, bool) {
	for _, spec := range stages {
		if spec.stage == stage {
			return spec, true
		}
	}
	return stageSpec{}, false
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	_, ok := lookupStage(Stage(value))
	return Stage(value), ok
}

// RunningStatus returns the in-progress status for the stage.
func (s Stage) RunningStatus() Status {
	spec, _ := lookupStage(s)
	return spec.running
}

// DoneStatus returns the status persisted after the stage succeeds.
func (s Stage) DoneStatus() Status {
	spec, _ := lookupStage(s)
	return spec.done
}

// HasResult reports whether the stage's field group is already present on sc.
func (s Stage) HasResult(sc *Scan) bool {
	if sc == nil {
		return false
	}
	spec, ok := lookupStage(s)
	if !ok {
		return false
	}
	return spec.has(sc)
}

// StageForStatus maps an in-progress status back to its stage.
func StageForStatus(status Status) (Stage, bool) {
	for _, spec := range stages {
		if spec.running == status {
			return spec.stage, true
		}
	}
	return "", false
}
