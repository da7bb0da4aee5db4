package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"scanpipe/internal/config"
	"scanpipe/internal/logging"
	"scanpipe/internal/notifications"
	"scanpipe/internal/reporting"
	"scanpipe/internal/scan"
	"scanpipe/internal/stage"
)

// Store is the persistence surface the manager needs.
type Store interface {
	scan.Store
	scan.Leases
	scan.AttemptLog
}

// StageSet bundles the concrete handlers in pipeline order.
type StageSet struct {
	VisionQC         stage.Handler
	BFEstimator      stage.Handler
	MetaBinder       stage.Handler
	DeltaComparator  stage.Handler
	InsightWriter    stage.Handler
	PrivacyPublisher stage.Handler
}

func (s StageSet) ordered() []stage.Handler {
	return []stage.Handler{s.VisionQC, s.BFEstimator, s.MetaBinder, s.DeltaComparator, s.InsightWriter, s.PrivacyPublisher}
}

var (
	errOperatorCancel = errors.New(scan.OperatorCancelReason)
	errShutdown       = errors.New("pipeline shutting down")
	errLeaseLost      = errors.New("run lease lost to another owner")
)

// Manager coordinates scan processing using registered stage handlers.
type Manager struct {
	cfg      *config.Config
	store    Store
	logger   *slog.Logger
	notifier notifications.Service
	reporter *reporting.Reporter
	policy   RetryPolicy
	owner    string

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	workers           int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	handlers []stage.Handler
	group    singleflight.Group

	root       context.Context
	rootCancel context.CancelCauseFunc

	mu        sync.RWMutex
	instances map[string]context.CancelCauseFunc
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastScan  *scan.Scan
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier overrides the notification service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithReporter attaches an error reporter for failed scans.
func WithReporter(r *reporting.Reporter) Option {
	return func(m *Manager) { m.reporter = r }
}

// WithOwner sets the run-lease owner identity.
func WithOwner(owner string) Option {
	return func(m *Manager) { m.owner = owner }
}

// WithSleeper replaces the backoff sleep (tests record delays instead).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithClock overrides the manager clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager constructs a pipeline manager. Stages must be configured before
// scans can be processed.
func NewManager(cfg *config.Config, store Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	root, rootCancel := context.WithCancelCause(context.Background())
	m := &Manager{
		cfg:               cfg,
		store:             store,
		logger:            logger.With(logging.String(logging.FieldComponent, "pipeline-manager")),
		policy:            PolicyFromConfig(cfg),
		owner:             defaultOwner(),
		pollInterval:      seconds(cfg.Pipeline.PollIntervalSeconds, 5),
		heartbeatInterval: seconds(cfg.Pipeline.HeartbeatIntervalSeconds, 15),
		heartbeatTimeout:  seconds(cfg.Pipeline.HeartbeatTimeoutSeconds, 120),
		workers:           cfg.Pipeline.Workers,
		now:               func() time.Time { return time.Now().UTC() },
		sleep:             sleepContext,
		root:              root,
		rootCancel:        rootCancel,
		instances:         make(map[string]context.CancelCauseFunc),
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}
	return m
}

// ConfigureStages registers the handlers. Every slot must be filled and each
// handler must report the stage of its slot.
func (m *Manager) ConfigureStages(set StageSet) error {
	ordered := set.ordered()
	expected := scan.Stages()
	handlers := make([]stage.Handler, 0, len(ordered))
	for i, handler := range ordered {
		if handler == nil {
			return fmt.Errorf("stage %s has no handler", expected[i])
		}
		if handler.Stage() != expected[i] {
			return fmt.Errorf("handler for %s reports stage %s", expected[i], handler.Stage())
		}
		if aware, ok := handler.(stage.LoggerAware); ok {
			aware.SetLogger(m.logger.With(logging.String(logging.FieldStage, string(expected[i]))))
		}
		handlers = append(handlers, handler)
	}
	m.mu.Lock()
	m.handlers = handlers
	m.mu.Unlock()
	return nil
}

func (m *Manager) stageHandlers() []stage.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "scanpipe"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
