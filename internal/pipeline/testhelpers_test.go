package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"scanpipe/internal/config"
	"scanpipe/internal/logging"
	"scanpipe/internal/notifications"
	"scanpipe/internal/scan"
	"scanpipe/internal/scanstore"
	"scanpipe/internal/stage"
	"scanpipe/internal/testsupport"
)

type stubStage struct {
	stg scan.Stage

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, sc *scan.Scan, call int) (scan.Patch, error)
}

func (s *stubStage) Stage() scan.Stage { return s.stg }

func (s *stubStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.stg) }

func (s *stubStage) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, sc, call)
	}
	return okPatch(s.stg, sc), nil
}

func (s *stubStage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubStage) set(fn func(ctx context.Context, sc *scan.Scan, call int) (scan.Patch, error)) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

var exampleEstimate = scan.BodyEstimate{BodyFatPercent: 18.2, LeanMassKg: 64.1, WeightKg: 78.36, Confidence: 0.9}

func okPatch(stg scan.Stage, sc *scan.Scan) scan.Patch {
	switch stg {
	case scan.StageVisionQC:
		return scan.Patch{QC: &scan.QCResult{Passed: true}}
	case scan.StageBFEstimator:
		est := exampleEstimate
		return scan.Patch{Estimate: &est}
	case scan.StageMetaBinder:
		return scan.Patch{Context: &scan.BoundContext{}}
	case scan.StageDeltaComparator:
		return scan.Patch{Deltas: &scan.DeltaComparison{Baseline: true, Streak: 1, Trend: scan.TrendBaseline}}
	case scan.StageInsightWriter:
		return scan.Patch{Insight: &scan.InsightData{Text: "Baseline recorded.", Source: scan.InsightSourceTemplate}}
	default:
		return scan.Patch{PublishedView: &scan.PublishedView{UserID: sc.UserID, Date: sc.Date, Active: true}}.WithStatus(scan.StatusCompleted)
	}
}

type stubStages map[scan.Stage]*stubStage

func newStubStages() stubStages {
	out := make(stubStages)
	for _, stg := range scan.Stages() {
		out[stg] = &stubStage{stg: stg}
	}
	return out
}

func (s stubStages) set() StageSet {
	return StageSet{
		VisionQC:         s[scan.StageVisionQC],
		BFEstimator:      s[scan.StageBFEstimator],
		MetaBinder:       s[scan.StageMetaBinder],
		DeltaComparator:  s[scan.StageDeltaComparator],
		InsightWriter:    s[scan.StageInsightWriter],
		PrivacyPublisher: s[scan.StagePrivacyPublisher],
	}
}

type published struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{event: event, payload: payload})
	return nil
}

func (r *recordingNotifier) Events() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type harness struct {
	cfg      *config.Config
	store    *scanstore.Store
	manager  *Manager
	notifier *recordingNotifier
	sleeper  *recordingSleeper
}

func newHarness(t *testing.T, cfg *config.Config, set StageSet) *harness {
	t.Helper()
	if cfg == nil {
		cfg = testsupport.NewConfig(t)
	}
	h := &harness{
		cfg:      cfg,
		store:    testsupport.MustOpenStore(t, cfg),
		notifier: &recordingNotifier{},
		sleeper:  &recordingSleeper{},
	}
	h.manager = NewManager(cfg, h.store, logging.NewNop(),
		WithNotifier(h.notifier),
		WithSleeper(h.sleeper.sleep),
		WithOwner("test-owner"),
	)
	if err := h.manager.ConfigureStages(set); err != nil {
		t.Fatalf("ConfigureStages: %v", err)
	}
	t.Cleanup(h.manager.Stop)
	return h
}

func (h *harness) process(t *testing.T, sc *scan.Scan) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	outcome, err := h.manager.ProcessScan(ctx, sc.UserID, sc.Date, sc.ID)
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	return outcome
}

func (h *harness) attempts(t *testing.T, sc *scan.Scan) []scan.Attempt {
	t.Helper()
	attempts, err := h.store.Attempts(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	return attempts
}
