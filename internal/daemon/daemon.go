package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"scanpipe/internal/config"
	"scanpipe/internal/logging"
	"scanpipe/internal/pipeline"
	"scanpipe/internal/reporting"
	"scanpipe/internal/scan"
)

// Daemon coordinates the background pipeline and the HTTP API and enforces
// single-instance execution per state directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    scan.Repository
	pipeline *pipeline.Manager
	reporter *reporting.Reporter
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	started time.Time
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	Backend      string
	LockFilePath string
	APIAddress   string
	Pipeline     pipeline.StatusSummary
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithReporter flushes the error reporter on shutdown.
func WithReporter(reporter *reporting.Reporter) Option {
	return func(d *Daemon) {
		d.reporter = reporter
	}
}

// New constructs a daemon around an opened store and a configured pipeline.
func New(cfg *config.Config, store scan.Repository, logger *slog.Logger, mgr *pipeline.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and pipeline manager")
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		pipeline: mgr,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the scheduler and the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scanpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.pipeline.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(); err != nil {
		cancel()
		d.pipeline.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.started = time.Now()
	d.running.Store(true)
	d.logger.Info("scanpipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("backend", d.cfg.Store.Backend),
		logging.String("api", d.api.address()),
		logging.Int("workers", d.cfg.Pipeline.Workers),
	)
	return nil
}

// Stop stops the API and the scheduler and releases the daemon lock. Runs
// interrupted by shutdown stay resumable.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pipeline.Stop()
	if d.reporter != nil {
		d.reporter.Flush(2 * time.Second)
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scanpipe daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.started,
		Backend:      d.cfg.Store.Backend,
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
		Pipeline:     d.pipeline.Status(ctx),
	}
}
