package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"scanpipe/internal/api"
	"scanpipe/internal/daemon"
	"scanpipe/internal/logging"
	"scanpipe/internal/pipeline"
	"scanpipe/internal/scan"
	"scanpipe/internal/stage"
	"scanpipe/internal/testsupport"
)

type fixedStage struct {
	stg   scan.Stage
	patch func(sc *scan.Scan) scan.Patch
}

func (s fixedStage) Stage() scan.Stage { return s.stg }
func (s fixedStage) Run(_ context.Context, sc *scan.Scan) (scan.Patch, error) {
	return s.patch(sc), nil
}
func (s fixedStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.stg) }

func fixedStages() pipeline.StageSet {
	estimate := scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9}
	return pipeline.StageSet{
		VisionQC: fixedStage{scan.StageVisionQC, func(*scan.Scan) scan.Patch {
			return scan.Patch{QC: &scan.QCResult{Passed: true}}
		}},
		BFEstimator: fixedStage{scan.StageBFEstimator, func(*scan.Scan) scan.Patch {
			return scan.Patch{Estimate: &estimate}
		}},
		MetaBinder: fixedStage{scan.StageMetaBinder, func(*scan.Scan) scan.Patch {
			return scan.Patch{Context: &scan.BoundContext{}}
		}},
		DeltaComparator: fixedStage{scan.StageDeltaComparator, func(*scan.Scan) scan.Patch {
			return scan.Patch{Deltas: &scan.DeltaComparison{Baseline: true, Streak: 1, Trend: scan.TrendBaseline}}
		}},
		InsightWriter: fixedStage{scan.StageInsightWriter, func(*scan.Scan) scan.Patch {
			return scan.Patch{Insight: &scan.InsightData{Text: "Baseline recorded.", Source: scan.InsightSourceTemplate}}
		}},
		PrivacyPublisher: fixedStage{scan.StagePrivacyPublisher, func(sc *scan.Scan) scan.Patch {
			return scan.Patch{PublishedView: &scan.PublishedView{UserID: sc.UserID, Date: sc.Date, Active: true}}
		}},
	}
}

func newDaemon(t *testing.T) (*daemon.Daemon, *pipeline.Manager) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = "127.0.0.1:0"
	cfg.Pipeline.PollIntervalSeconds = 1
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := pipeline.NewManager(cfg, store, logger)
	if err := mgr.ConfigureStages(fixedStages()); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d, mgr
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Pipeline.Running {
		t.Fatalf("expected daemon and pipeline running, got %+v", status)
	}
	if status.APIAddress == "" {
		t.Fatal("expected api address")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running || status.Pipeline.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = ""
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	build := func() *daemon.Daemon {
		mgr := pipeline.NewManager(cfg, store, logger)
		if err := mgr.ConfigureStages(fixedStages()); err != nil {
			t.Fatalf("ConfigureStages: %v", err)
		}
		d, err := daemon.New(cfg, store, logger, mgr)
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		return d
	}
	first, second := build(), build()
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected the lock to reject a second daemon")
	}
}

func TestDaemonSchedulerCompletesCreatedScan(t *testing.T) {
	d, _ := newDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := "http://" + d.Status(ctx).APIAddress
	body := `{"userId":"u1","date":"2025-01-10","angleUrls":{"front":"file://f.jpg","side":"file://s.jpg","back":"file://b.jpg"}}`
	resp, err := http.Post(base+"/api/scans", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create scan: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sc := getScan(t, base+"/api/scans/u1/2025-01-10")
		if sc.Status == string(scan.StatusCompleted) {
			if sc.PublishedView == nil || !sc.PublishedView.Active {
				t.Fatalf("completed scan without view: %+v", sc)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("scheduler never completed the scan")
}

func getScan(t *testing.T, url string) api.Scan {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get scan: %v", err)
	}
	defer resp.Body.Close()
	var out api.ScanResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode scan: %v", err)
	}
	return out.Scan
}
