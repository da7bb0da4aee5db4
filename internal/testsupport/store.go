package testsupport

import (
	"context"
	"testing"

	"scanpipe/internal/config"
	"scanpipe/internal/scan"
	"scanpipe/internal/scanstore"
)

// MustOpenStore opens a scanstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *scanstore.Store {
	t.Helper()

	store, err := scanstore.Open(cfg)
	if err != nil {
		t.Fatalf("scanstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AngleURLs returns a front/side/back set rooted at base.
func AngleURLs(base string) map[string]string {
	return map[string]string{
		"front": base + "/front.jpg",
		"side":  base + "/side.jpg",
		"back":  base + "/back.jpg",
	}
}

// NewScan creates a scan for tests using the provided store.
func NewScan(t testing.TB, store scan.Store, userID, date string) *scan.Scan {
	t.Helper()

	sc, err := store.Create(context.Background(), &scan.Scan{
		UserID:    userID,
		Date:      date,
		AngleURLs: AngleURLs("file://photos/" + userID + "/" + date),
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sc
}

// CompleteScan drives a scan straight to completed with the given estimate,
// writing one field group per patch as the pipeline would.
func CompleteScan(t testing.TB, store scan.Store, sc *scan.Scan, estimate scan.BodyEstimate) *scan.Scan {
	t.Helper()

	ctx := context.Background()
	patches := []scan.Patch{
		scan.Patch{QC: &scan.QCResult{Passed: true}}.WithStatus(scan.StatusQCPassed),
		scan.Patch{Estimate: &estimate}.WithStatus(scan.StatusEstimated),
		scan.Patch{Context: &scan.BoundContext{}}.WithStatus(scan.StatusBound),
		scan.Patch{Deltas: &scan.DeltaComparison{Baseline: true, Streak: 1, Trend: scan.TrendBaseline}}.WithStatus(scan.StatusCompared),
		scan.Patch{Insight: &scan.InsightData{Text: "Baseline recorded.", Source: scan.InsightSourceTemplate}}.WithStatus(scan.StatusInsightWritten),
		scan.Patch{PublishedView: &scan.PublishedView{UserID: sc.UserID, Date: sc.Date, Active: true}}.WithStatus(scan.StatusCompleted),
	}
	var (
		updated *scan.Scan
		err     error
	)
	for _, patch := range patches {
		updated, err = store.UpdateFields(ctx, sc.ID, patch)
		if err != nil {
			t.Fatalf("store.UpdateFields: %v", err)
		}
	}
	return updated
}
