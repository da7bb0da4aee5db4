package firestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanpipe/internal/scan"
)

func TestScanConverterKeepsOptionalGroupsAbsent(t *testing.T) {
	created := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	sc := &scan.Scan{
		ID:            "s1",
		UserID:        "u1",
		Date:          "2025-01-10",
		AngleURLs:     map[string]string{"front": "gs://b/front.jpg"},
		Status:        scan.StatusEstimated,
		Authoritative: true,
		Estimate:      &scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9},
		Deltas:        &scan.DeltaComparison{Baseline: true, Streak: 1, Trend: scan.TrendBaseline},
		CreatedAt:     created,
		UpdatedAt:     created,
	}

	m := ScanToFirestore(sc)
	assert.NotContains(t, m, "qc")
	assert.NotContains(t, m, "published_view")
	assert.NotContains(t, m, "failed_stage")

	back, err := FirestoreToScan(m)
	require.NoError(t, err)
	assert.Nil(t, back.QC)
	require.NotNil(t, back.Estimate)
	assert.InDelta(t, 18.2, back.Estimate.BodyFatPercent, 1e-9)
	require.NotNil(t, back.Deltas)
	assert.Nil(t, back.Deltas.WeightDeltaKg)
	assert.Equal(t, 1, back.Deltas.Streak)
	assert.Equal(t, "gs://b/front.jpg", back.AngleURLs["front"])
	assert.Equal(t, created, back.CreatedAt)
}

func updatePaths(updates []firestore.Update) map[string]any {
	out := make(map[string]any, len(updates))
	for _, u := range updates {
		out[u.Path] = u.Value
	}
	return out
}

func TestScanUpdatesTouchOnlyPatchedFields(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	cur := &scan.Scan{
		ID: "s1", UserID: "u1", Date: "2025-01-10", Status: scan.StatusEstimated,
		Estimate: &scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9},
	}
	patch := scan.Patch{
		Context:  &scan.BoundContext{},
		Estimate: &scan.BodyEstimate{BodyFatPercent: 30, LeanMassKg: 50, WeightKg: 71, Confidence: 0.5},
	}.WithStatus(scan.StatusBound)

	paths := updatePaths(scanUpdates(cur, patch, now))
	assert.Contains(t, paths, "context")
	assert.Equal(t, string(scan.StatusBound), paths["status"])
	assert.Equal(t, now, paths["updated_at"])
	assert.NotContains(t, paths, "estimate", "groups already written are never rewritten")
	for _, untouched := range []string{"id", "user_id", "date", "angle_urls", "authoritative", "created_at", "run_owner", "qc"} {
		assert.NotContains(t, paths, untouched)
	}
	assert.Len(t, paths, 3)
}

func TestScanUpdatesFailureFields(t *testing.T) {
	now := time.Now().UTC()
	cur := &scan.Scan{ID: "s1", Status: scan.StatusFailed, FailedStage: scan.StageInsightWriter, FailureReason: "down", ErrorKind: "transient_infra"}

	failed := updatePaths(scanUpdates(&scan.Scan{ID: "s1"}, scan.FailurePatch(scan.StatusFailed, scan.StageBFEstimator, "bad", ""), now))
	assert.Equal(t, string(scan.StageBFEstimator), failed["failed_stage"])
	assert.Equal(t, "bad", failed["failure_reason"])
	assert.Equal(t, firestore.Delete, failed["error_kind"])

	cleared := updatePaths(scanUpdates(cur, scan.Patch{ClearFailure: true}.WithStatus(scan.StatusCreated), now))
	assert.Equal(t, firestore.Delete, cleared["failed_stage"])
	assert.Equal(t, firestore.Delete, cleared["failure_reason"])
	assert.Equal(t, firestore.Delete, cleared["error_kind"])
	assert.Equal(t, string(scan.StatusCreated), cleared["status"])
}

func TestProfileConverterWithoutProfileField(t *testing.T) {
	profile, err := FirestoreToProfile(map[string]interface{}{"user_id": "u1", "fcm_tokens": []interface{}{"x"}})
	require.NoError(t, err)
	assert.Nil(t, profile, "a user document without a profile means no privacy record")
}

func TestNormalizeValueConvertsTimestamps(t *testing.T) {
	ts := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	qc, err := fromMap[scan.QCResult](map[string]interface{}{
		"qc": map[string]interface{}{"passed": true, "checkedAt": ts},
	}, "qc")
	require.NoError(t, err)
	require.NotNil(t, qc)
	assert.True(t, qc.Passed)
	assert.Equal(t, ts, qc.CheckedAt)
}

// Emulator-backed tests run only when FIRESTORE_EMULATOR_HOST is set.
func newEmulatorClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	fs, err := firestore.NewClient(context.Background(), "scanpipe-test")
	require.NoError(t, err)
	client := NewClient(fs)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEmulatorScanLifecycle(t *testing.T) {
	client := newEmulatorClient(t)
	ctx := context.Background()
	userID := "u-" + uuid.NewString()

	sc, err := client.Create(ctx, &scan.Scan{
		UserID:    userID,
		Date:      "2025-01-10",
		AngleURLs: map[string]string{"front": "gs://b/f.jpg", "side": "gs://b/s.jpg", "back": "gs://b/b.jpg"},
	})
	require.NoError(t, err)

	_, err = client.Create(ctx, &scan.Scan{UserID: userID, Date: "2025-01-10", AngleURLs: sc.AngleURLs})
	require.ErrorIs(t, err, scan.ErrAuthoritativeExists)

	ref, _, err := client.findScan(ctx, sc.ID)
	require.NoError(t, err)
	_, err = ref.Update(ctx, []firestore.Update{{Path: "ui_note", Value: "x"}})
	require.NoError(t, err)

	first := scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9}
	_, err = client.UpdateFields(ctx, sc.ID, scan.Patch{Estimate: &first}.WithStatus(scan.StatusEstimated))
	require.NoError(t, err)
	snap, err := ref.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", snap.Data()["ui_note"], "stage writes keep fields owned by other writers")
	updated, err := client.UpdateFields(ctx, sc.ID, scan.Patch{Estimate: &scan.BodyEstimate{BodyFatPercent: 40}})
	require.NoError(t, err)
	assert.InDelta(t, 18.2, updated.Estimate.BodyFatPercent, 1e-9)

	ok, err := client.Claim(ctx, sc.ID, "owner-a", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.Claim(ctx, sc.ID, "owner-b", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, client.Release(ctx, sc.ID, "owner-a"))

	view := scan.Patch{PublishedView: &scan.PublishedView{UserID: userID, Date: "2025-01-10", Active: true}}.WithStatus(scan.StatusCompleted)
	done, err := client.UpdateFields(ctx, sc.ID, view)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, done.Status)

	_, err = client.UpdateFields(ctx, sc.ID, scan.StatusPatch(scan.StatusFailed))
	assert.True(t, errors.Is(err, scan.ErrTerminal))

	prior, err := client.CompletedBefore(ctx, userID, "2025-01-11", "2025-01-01")
	require.NoError(t, err)
	require.Len(t, prior, 1)
	assert.Equal(t, sc.ID, prior[0].ID)

	latest, err := client.LatestCompletedBefore(ctx, userID, "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, sc.ID, latest.ID)
}

func TestEmulatorDayContext(t *testing.T) {
	client := newEmulatorClient(t)
	ctx := context.Background()
	userID := "u-" + uuid.NewString()

	log, err := client.GetDayLog(ctx, userID, "2025-01-10")
	require.NoError(t, err)
	assert.Nil(t, log)

	require.NoError(t, client.PutDayLog(ctx, &scan.DayLog{UserID: userID, Date: "2025-01-10", Workout: "row", WorkoutMinutes: 40}))
	log, err = client.GetDayLog(ctx, userID, "2025-01-10")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, 40, log.WorkoutMinutes)

	require.NoError(t, client.PutUserProfile(ctx, &scan.Profile{UserID: userID, Goal: "cut", Privacy: &scan.PrivacySettings{ShowWeight: true}}))
	profile, err := client.GetUserProfile(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.NotNil(t, profile.Privacy)
	assert.True(t, profile.Privacy.ShowWeight)
}
