package scan

import (
	"errors"
	"fmt"
)

// ErrMultipleFieldGroups is returned when a patch touches more than one
// stage-owned field group.
var ErrMultipleFieldGroups = errors.New("patch touches more than one field group")

// Patch is a partial update applied by a store. Field groups are write-once:
// a store keeps an existing group and ignores the patched value.
type Patch struct {
	Status *Status

	QC            *QCResult
	Estimate      *BodyEstimate
	Context       *BoundContext
	Deltas        *DeltaComparison
	Insight       *InsightData
	PublishedView *PublishedView

	Failure      *Failure
	ClearFailure bool
}

// WithStatus sets the status on the patch and returns it.
func (p Patch) WithStatus(status Status) Patch {
	p.Status = &status
	return p
}

// StatusPatch builds a status-only patch.
func StatusPatch(status Status) Patch {
	return Patch{}.WithStatus(status)
}

// FailurePatch builds a terminal failure patch.
func FailurePatch(status Status, stage Stage, reason, kind string) Patch {
	return Patch{Failure: &Failure{Stage: stage, Reason: reason, Kind: kind}}.WithStatus(status)
}

// FieldGroups lists the field groups the patch touches.
func (p Patch) FieldGroups() []Stage {
	var groups []Stage
	if p.QC != nil {
		groups = append(groups, StageVisionQC)
	}
	if p.Estimate != nil {
		groups = append(groups, StageBFEstimator)
	}
	if p.Context != nil {
		groups = append(groups, StageMetaBinder)
	}
	if p.Deltas != nil {
		groups = append(groups, StageDeltaComparator)
	}
	if p.Insight != nil {
		groups = append(groups, StageInsightWriter)
	}
	if p.PublishedView != nil {
		groups = append(groups, StagePrivacyPublisher)
	}
	return groups
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && len(p.FieldGroups()) == 0 && p.Failure == nil && !p.ClearFailure
}

// Validate enforces single-field-group updates and basic consistency.
func (p Patch) Validate() error {
	if groups := p.FieldGroups(); len(groups) > 1 {
		return fmt.Errorf("%w: %v", ErrMultipleFieldGroups, groups)
	}
	if p.Status != nil {
		if _, ok := statusSet[*p.Status]; !ok {
			return fmt.Errorf("unknown status %q", *p.Status)
		}
	}
	if p.Failure != nil && p.ClearFailure {
		return errors.New("patch cannot both set and clear a failure")
	}
	if p.PublishedView != nil && (p.Status == nil || *p.Status != StatusCompleted) {
		return errors.New("published view must be written together with status completed")
	}
	return nil
}

// Apply merges the patch into a copy of sc following write-once semantics.
// Backends that cannot express the merge in a single statement use this
// inside a transaction.
func (p Patch) Apply(sc *Scan) *Scan {
	out := sc.Clone()
	if p.QC != nil && out.QC == nil {
		out.QC = p.QC
	}
	if p.Estimate != nil && out.Estimate == nil {
		out.Estimate = p.Estimate
	}
	if p.Context != nil && out.Context == nil {
		out.Context = p.Context
	}
	if p.Deltas != nil && out.Deltas == nil {
		out.Deltas = p.Deltas
	}
	if p.Insight != nil && out.Insight == nil {
		out.Insight = p.Insight
	}
	if p.PublishedView != nil && out.PublishedView == nil {
		out.PublishedView = p.PublishedView
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Failure != nil {
		out.FailedStage = p.Failure.Stage
		out.FailureReason = p.Failure.Reason
		out.ErrorKind = p.Failure.Kind
	}
	if p.ClearFailure {
		out.FailedStage = ""
		out.FailureReason = ""
		out.ErrorKind = ""
	}
	return out
}
