package scanstore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"scanpipe/internal/scan"
	"scanpipe/internal/scanstore"
	"scanpipe/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewScan(t, store, "u1", "2025-01-10")
	if created.ID == "" {
		t.Fatal("expected generated scan id")
	}
	if created.Status != scan.StatusCreated || !created.Authoritative {
		t.Fatalf("unexpected new scan: %+v", created)
	}
	if len(created.AngleURLs) != 3 {
		t.Fatalf("angle urls not persisted: %v", created.AngleURLs)
	}

	got, err := store.Get(ctx, "u1", "2025-01-10")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("Get returned %+v", got)
	}

	missing, err := store.Get(ctx, "u1", "2025-01-11")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing scan, got %+v, %v", missing, err)
	}
}

func TestCreateRejectsActiveDuplicate(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewScan(t, store, "u1", "2025-01-10")
	existing, err := store.Create(ctx, &scan.Scan{UserID: "u1", Date: "2025-01-10", AngleURLs: testsupport.AngleURLs("file://x")})
	if !errors.Is(err, scan.ErrAuthoritativeExists) {
		t.Fatalf("expected ErrAuthoritativeExists, got %v", err)
	}
	if existing == nil || existing.ID != first.ID {
		t.Fatalf("expected existing scan returned, got %+v", existing)
	}
}

func TestCreateRetakeDemotesRejectedScan(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewScan(t, store, "u1", "2025-01-10")
	rejected := scan.FailurePatch(scan.StatusQCFailed, scan.StageVisionQC, "retake photos: side missing", "business_rejection")
	rejected.QC = &scan.QCResult{Passed: false, Reasons: []string{"side missing"}}
	if _, err := store.UpdateFields(ctx, first.ID, rejected); err != nil {
		t.Fatalf("UpdateFields failed: %v", err)
	}

	retake, err := store.Create(ctx, &scan.Scan{UserID: "u1", Date: "2025-01-10", AngleURLs: testsupport.AngleURLs("file://retake")})
	if err != nil {
		t.Fatalf("retake Create failed: %v", err)
	}
	if retake.ID == first.ID {
		t.Fatal("retake reused the rejected scan id")
	}

	old, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if old.Authoritative {
		t.Fatal("rejected scan should be demoted")
	}
	current, err := store.Get(ctx, "u1", "2025-01-10")
	if err != nil || current == nil || current.ID != retake.ID {
		t.Fatalf("expected retake to be authoritative, got %+v, %v", current, err)
	}
}

func TestUpdateFieldsIsWriteOnce(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")

	first := scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9}
	if _, err := store.UpdateFields(ctx, sc.ID, scan.Patch{Estimate: &first}.WithStatus(scan.StatusEstimated)); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	second := scan.BodyEstimate{BodyFatPercent: 30, LeanMassKg: 50, WeightKg: 71, Confidence: 0.4}
	updated, err := store.UpdateFields(ctx, sc.ID, scan.Patch{Estimate: &second}.WithStatus(scan.StatusEstimated))
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if updated.Estimate == nil || updated.Estimate.BodyFatPercent != 18.2 {
		t.Fatalf("estimate was overwritten: %+v", updated.Estimate)
	}
}

func TestUpdateFieldsRejectsMultipleGroups(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")

	_, err := store.UpdateFields(context.Background(), sc.ID, scan.Patch{
		QC:       &scan.QCResult{Passed: true},
		Estimate: &scan.BodyEstimate{},
	})
	if !errors.Is(err, scan.ErrMultipleFieldGroups) {
		t.Fatalf("expected ErrMultipleFieldGroups, got %v", err)
	}
}

func TestTerminalScansRejectPatches(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")

	failed := scan.FailurePatch(scan.StatusFailed, scan.StageBFEstimator, "cancelled by operator", "cancelled")
	if _, err := store.UpdateFields(ctx, sc.ID, failed); err != nil {
		t.Fatalf("fail patch: %v", err)
	}
	_, err := store.UpdateFields(ctx, sc.ID, scan.Patch{Estimate: &scan.BodyEstimate{}}.WithStatus(scan.StatusEstimated))
	if !errors.Is(err, scan.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	retried, err := store.UpdateFields(ctx, sc.ID, scan.Patch{ClearFailure: true}.WithStatus(scan.StatusCreated))
	if err != nil {
		t.Fatalf("retry patch: %v", err)
	}
	if retried.Status != scan.StatusCreated || retried.FailedStage != "" || retried.ErrorKind != "" {
		t.Fatalf("retry did not reset failure: %+v", retried)
	}

	if _, err := store.UpdateFields(ctx, "missing", scan.StatusPatch(scan.StatusQCInProgress)); !errors.Is(err, scan.ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
}

func TestPublishWritesViewAndStatusTogether(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")

	done := testsupport.CompleteScan(t, store, sc, scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9})
	if done.Status != scan.StatusCompleted || done.PublishedView == nil {
		t.Fatalf("expected completed scan with view, got %+v", done)
	}
	if !done.PublishedView.Active || done.PublishedView.UserID != "u1" {
		t.Fatalf("unexpected view: %+v", done.PublishedView)
	}
}

func TestCompletedBeforeFiltersAndOrders(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	est := scan.BodyEstimate{BodyFatPercent: 20, LeanMassKg: 60, WeightKg: 75, Confidence: 0.8}

	for _, date := range []string{"2025-01-07", "2025-01-08", "2025-01-09"} {
		testsupport.CompleteScan(t, store, testsupport.NewScan(t, store, "u1", date), est)
	}
	testsupport.CompleteScan(t, store, testsupport.NewScan(t, store, "u1", "2025-01-10"), est)
	testsupport.NewScan(t, store, "u1", "2025-01-06")
	testsupport.CompleteScan(t, store, testsupport.NewScan(t, store, "u2", "2025-01-09"), est)

	prior, err := store.CompletedBefore(ctx, "u1", "2025-01-10", "2025-01-01")
	if err != nil {
		t.Fatalf("CompletedBefore failed: %v", err)
	}
	if len(prior) != 3 {
		t.Fatalf("expected 3 prior scans, got %d", len(prior))
	}
	if prior[0].Date != "2025-01-09" || prior[2].Date != "2025-01-07" {
		t.Fatalf("unexpected order: %s .. %s", prior[0].Date, prior[2].Date)
	}

	bounded, err := store.CompletedBefore(ctx, "u1", "2025-01-10", "2025-01-08")
	if err != nil {
		t.Fatalf("CompletedBefore failed: %v", err)
	}
	if len(bounded) != 2 {
		t.Fatalf("expected lookback to drop older scans, got %d", len(bounded))
	}
}

func TestLatestCompletedBeforeHasNoLowerBound(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	est := scan.BodyEstimate{BodyFatPercent: 20, LeanMassKg: 60, WeightKg: 75, Confidence: 0.8}

	old := testsupport.CompleteScan(t, store, testsupport.NewScan(t, store, "u1", "2024-09-01"), est)
	testsupport.CompleteScan(t, store, testsupport.NewScan(t, store, "u1", "2025-01-10"), est)
	testsupport.NewScan(t, store, "u1", "2024-12-30")

	latest, err := store.LatestCompletedBefore(ctx, "u1", "2025-01-10")
	if err != nil {
		t.Fatalf("LatestCompletedBefore failed: %v", err)
	}
	if latest == nil || latest.ID != old.ID {
		t.Fatalf("expected the 2024-09-01 scan, got %+v", latest)
	}

	none, err := store.LatestCompletedBefore(ctx, "u1", "2024-09-01")
	if err != nil || none != nil {
		t.Fatalf("expected no prior scan, got %+v (err %v)", none, err)
	}
}

func TestLeases(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")
	stale := time.Now().Add(-time.Minute)

	ok, err := store.Claim(ctx, sc.ID, "owner-a", stale)
	if err != nil || !ok {
		t.Fatalf("first claim: %v, %v", ok, err)
	}
	ok, err = store.Claim(ctx, sc.ID, "owner-b", stale)
	if err != nil || ok {
		t.Fatalf("second owner should not claim a live lease: %v, %v", ok, err)
	}
	if err := store.Heartbeat(ctx, sc.ID, "owner-b"); !errors.Is(err, scan.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if err := store.Heartbeat(ctx, sc.ID, "owner-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	runnable, err := store.Runnable(ctx, stale, 10)
	if err != nil {
		t.Fatalf("Runnable: %v", err)
	}
	if len(runnable) != 0 {
		t.Fatalf("leased scan should not be runnable, got %d", len(runnable))
	}

	// A cutoff in the future makes the current heartbeat stale.
	future := time.Now().Add(time.Minute)
	ok, err = store.Claim(ctx, sc.ID, "owner-b", future)
	if err != nil || !ok {
		t.Fatalf("stale lease should be reclaimable: %v, %v", ok, err)
	}

	if err := store.Release(ctx, sc.ID, "owner-b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	runnable, err = store.Runnable(ctx, stale, 10)
	if err != nil || len(runnable) != 1 {
		t.Fatalf("released scan should be runnable: %d, %v", len(runnable), err)
	}
}

func TestDayContextAndAttempts(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if log, err := store.GetDayLog(ctx, "u1", "2025-01-10"); err != nil || log != nil {
		t.Fatalf("expected no day log, got %+v, %v", log, err)
	}
	if err := store.PutDayLog(ctx, &scan.DayLog{UserID: "u1", Date: "2025-01-10", Workout: "run", WorkoutMinutes: 30}); err != nil {
		t.Fatalf("PutDayLog: %v", err)
	}
	log, err := store.GetDayLog(ctx, "u1", "2025-01-10")
	if err != nil || log == nil || log.Workout != "run" {
		t.Fatalf("unexpected day log %+v, %v", log, err)
	}

	profile := &scan.Profile{UserID: "u1", Goal: "cut", Privacy: &scan.PrivacySettings{ShowTrend: true}}
	if err := store.PutUserProfile(ctx, profile); err != nil {
		t.Fatalf("PutUserProfile: %v", err)
	}
	got, err := store.GetUserProfile(ctx, "u1")
	if err != nil || got == nil || got.Privacy == nil || !got.Privacy.ShowTrend {
		t.Fatalf("unexpected profile %+v, %v", got, err)
	}

	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")
	now := time.Now()
	for i, outcome := range []string{scan.OutcomeRetrying, scan.OutcomeSucceeded} {
		if err := store.RecordAttempt(ctx, scan.Attempt{
			ScanID:     sc.ID,
			Stage:      scan.StageBFEstimator,
			Attempt:    i + 1,
			Outcome:    outcome,
			Backoff:    time.Second,
			StartedAt:  now,
			FinishedAt: now,
		}); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}
	attempts, err := store.Attempts(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 2 || attempts[1].Outcome != scan.OutcomeSucceeded || attempts[0].Backoff != time.Second {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewScan(t, store, "u1", "2025-01-09")
	sc := testsupport.NewScan(t, store, "u1", "2025-01-10")
	if _, err := store.UpdateFields(ctx, sc.ID, scan.StatusPatch(scan.StatusEstimating)); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.InProgress != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.IntegrityCheck || len(health.MissingTables) != 0 || health.TotalScans != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.DBPath != cfg.DatabasePath() {
		t.Fatalf("unexpected db path %s", health.DBPath)
	}
}

func TestReopenChecksSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := scanstore.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	health, err := store.CheckHealth(context.Background())
	if err != nil || health.SchemaVersion != 1 {
		t.Fatalf("schema version = %d (err %v)", health.SchemaVersion, err)
	}
	store.Close()

	again, err := scanstore.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	db.Close()

	if _, err := scanstore.Open(cfg); !errors.Is(err, scanstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch from a newer database, got %v", err)
	}
}
