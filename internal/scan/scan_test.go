package scan

import (
	"errors"
	"strings"
	"testing"
)

func TestStagesOrder(t *testing.T) {
	want := []Stage{
		StageVisionQC,
		StageBFEstimator,
		StageMetaBinder,
		StageDeltaComparator,
		StageInsightWriter,
		StagePrivacyPublisher,
	}
	got := Stages()
	if len(got) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d: want %s got %s", i, want[i], got[i])
		}
	}
	if StageBFEstimator.RunningStatus() != StatusEstimating || StageBFEstimator.DoneStatus() != StatusEstimated {
		t.Fatalf("unexpected statuses for estimator stage")
	}
	if stage, ok := StageForStatus(StatusWritingInsight); !ok || stage != StageInsightWriter {
		t.Fatalf("StageForStatus(writing_insight) = %s, %v", stage, ok)
	}
	if _, ok := StageForStatus(StatusBound); ok {
		t.Fatal("bound is not an in-progress status")
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus("  QC_FAILED "); !ok || status != StatusQCFailed {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	for _, status := range []Status{StatusCompleted, StatusFailed, StatusQCFailed} {
		if !status.IsTerminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
	if StatusPublishing.IsTerminal() || !StatusPublishing.IsInProgress() {
		t.Fatal("publishing should be in progress and not terminal")
	}
}

func TestResumeStatus(t *testing.T) {
	sc := &Scan{}
	if got := sc.ResumeStatus(); got != StatusCreated {
		t.Fatalf("empty scan resumes from %s", got)
	}
	sc.QC = &QCResult{Passed: true}
	sc.Estimate = &BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.37, Confidence: 0.9}
	if got := sc.ResumeStatus(); got != StatusEstimated {
		t.Fatalf("want estimated, got %s", got)
	}
	// A gap stops the walk: later groups without earlier ones are ignored.
	sc.Context = nil
	sc.Deltas = &DeltaComparison{Baseline: true, Streak: 1}
	if got := sc.ResumeStatus(); got != StatusEstimated {
		t.Fatalf("want estimated with gap, got %s", got)
	}
	sc.Context = &BoundContext{}
	sc.Insight = &InsightData{Text: "x"}
	sc.PublishedView = &PublishedView{Active: true}
	if got := sc.ResumeStatus(); got != StatusPublishing {
		t.Fatalf("fully populated scan should resume at publishing, got %s", got)
	}
}

func TestBodyEstimateNormalizeAndValidate(t *testing.T) {
	est := &BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, Confidence: 0.9}
	est.Normalize()
	if est.WeightKg != 78.36 {
		t.Fatalf("derived weight = %v", est.WeightKg)
	}
	if err := est.Validate(); err != nil {
		t.Fatalf("valid estimate rejected: %v", err)
	}

	cases := []struct {
		name string
		est  BodyEstimate
		want string
	}{
		{"body fat high", BodyEstimate{BodyFatPercent: 101, LeanMassKg: 60, WeightKg: 70, Confidence: 0.5}, "bodyFatPercent"},
		{"body fat negative", BodyEstimate{BodyFatPercent: -1, LeanMassKg: 60, WeightKg: 70, Confidence: 0.5}, "bodyFatPercent"},
		{"confidence", BodyEstimate{BodyFatPercent: 20, LeanMassKg: 60, WeightKg: 70, Confidence: 1.2}, "confidence"},
		{"lean zero", BodyEstimate{BodyFatPercent: 20, LeanMassKg: 0, WeightKg: 70, Confidence: 0.5}, "leanMassKg"},
		{"weight zero", BodyEstimate{BodyFatPercent: 20, LeanMassKg: 60, Confidence: 0.5}, "weightKg"},
		{"lean above weight", BodyEstimate{BodyFatPercent: 20, LeanMassKg: 80, WeightKg: 70, Confidence: 0.5}, "exceeds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.est.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestPatchValidate(t *testing.T) {
	single := Patch{Estimate: &BodyEstimate{}}.WithStatus(StatusEstimated)
	if err := single.Validate(); err != nil {
		t.Fatalf("single group patch rejected: %v", err)
	}

	double := Patch{QC: &QCResult{Passed: true}, Estimate: &BodyEstimate{}}
	if err := double.Validate(); !errors.Is(err, ErrMultipleFieldGroups) {
		t.Fatalf("expected ErrMultipleFieldGroups, got %v", err)
	}

	view := Patch{PublishedView: &PublishedView{Active: true}}
	if err := view.Validate(); err == nil {
		t.Fatal("published view without completed status should be rejected")
	}
	if err := view.WithStatus(StatusCompleted).Validate(); err != nil {
		t.Fatalf("published view with completed rejected: %v", err)
	}

	bad := StatusPatch(Status("nope"))
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown status accepted")
	}
	if !(Patch{}).IsEmpty() {
		t.Fatal("zero patch should be empty")
	}
}

func TestPatchApplyIsWriteOnce(t *testing.T) {
	original := &Scan{ID: "s1", Status: StatusEstimating, QC: &QCResult{Passed: true}}
	first := &BodyEstimate{BodyFatPercent: 20, LeanMassKg: 60, WeightKg: 75, Confidence: 0.8}
	updated := Patch{Estimate: first}.WithStatus(StatusEstimated).Apply(original)
	if updated.Estimate != first || updated.Status != StatusEstimated {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if original.Estimate != nil {
		t.Fatal("Apply mutated the input scan")
	}

	second := &BodyEstimate{BodyFatPercent: 30}
	again := Patch{Estimate: second}.Apply(updated)
	if again.Estimate != first {
		t.Fatal("existing field group was overwritten")
	}

	failed := FailurePatch(StatusFailed, StageMetaBinder, "boom", "transient_infra").Apply(again)
	if failed.FailedStage != StageMetaBinder || failed.FailureReason != "boom" {
		t.Fatalf("failure not recorded: %+v", failed)
	}
	cleared := Patch{ClearFailure: true}.WithStatus(StatusEstimated).Apply(failed)
	if cleared.FailedStage != "" || cleared.ErrorKind != "" {
		t.Fatalf("failure not cleared: %+v", cleared)
	}
}

func TestKeys(t *testing.T) {
	if got := InstanceKey("u1", "2025-01-10"); got != "u1:2025-01-10" {
		t.Fatalf("InstanceKey = %q", got)
	}
	key, err := ParseKey("team:u1:2025-01-10")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if key.UserID != "team:u1" || key.Date != "2025-01-10" {
		t.Fatalf("unexpected key %+v", key)
	}
	if _, err := ParseKey("u1:01/10/2025"); err == nil {
		t.Fatal("expected date validation error")
	}
	if err := (Key{UserID: " ", Date: "2025-01-10"}).Validate(); err == nil {
		t.Fatal("expected user validation error")
	}

	days, err := DaysBetween("2024-12-31", "2025-01-02")
	if err != nil || days != 2 {
		t.Fatalf("DaysBetween = %d, %v", days, err)
	}
	prev, err := AddDays("2025-03-01", -1)
	if err != nil || prev != "2025-02-28" {
		t.Fatalf("AddDays = %q, %v", prev, err)
	}
}
