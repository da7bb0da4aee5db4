package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"scanpipe/internal/config"
	"scanpipe/internal/daemon"
	"scanpipe/internal/logging"
	"scanpipe/internal/logs"
	"scanpipe/internal/preflight"
	"scanpipe/internal/reporting"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic stamps a session id on every record and mirrors debug
	// output into logs/debug.
	Diagnostic bool
	Release    string
}

// Run starts the scanpipe daemon and blocks until the context ends or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("scanpipe-%s.log", runID))

	var sessionID string
	if opts.Diagnostic {
		sessionID = uuid.NewString()
	}
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		SessionID:        sessionID,
		RunID:            runID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugLogPath := filepath.Join(debugDir, fmt.Sprintf("scanpipe-%s.log", runID))
		debugLogger, debugErr := logging.New(logging.Options{
			Level:            "debug",
			Format:           "json",
			OutputPaths:      []string{debugLogPath},
			ErrorOutputPaths: []string{debugLogPath},
			Development:      true,
			SessionID:        sessionID,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, slog.LevelDebug, debugLogger.Handler())
			if err := ensureCurrentLogPointer(debugDir, debugLogPath); err != nil {
				fmt.Fprintf(os.Stderr, "warn: unable to update debug/scanpipe.log link: %v\n", err)
			}
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String(logging.FieldSessionID, sessionID),
			logging.String("debug_log_path", debugLogPath),
		)
	}

	reporter, err := reporting.Init(cfg.Sentry, opts.Release, logger)
	if err != nil {
		logging.WarnWithContext(logger, "error reporting disabled", "reporting_init_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check sentry.dsn"),
		)
	}
	if handler := reporter.Handler(); handler != nil {
		logger = logging.TeeLogger(logger, slog.LevelWarn, handler)
	}

	logConfigSnapshot(logger, cfg)
	for _, check := range preflight.RunAll(signalCtx, cfg, nil) {
		if check.Passed {
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.Bool("optional", check.Optional),
		)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update scanpipe.log link: %v\n", err)
	}
	logs.PruneRunLogs(signalCtx, cfg.Paths.LogDir, cfg.LogRetention(), logger)
	rt, err := Open(signalCtx, cfg, logger, RuntimeOptions{Reporter: reporter, Notify: true})
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}
	defer rt.Close()

	d, err := daemon.New(cfg, rt.Store, logger, rt.Manager, daemon.WithReporter(reporter))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file, api.bind, and store access"),
			logging.String(logging.FieldImpact, "no scans will be processed"),
		)
		return err
	}

	// Only the lock holder owns the pid file.
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("scanpipe daemon shutting down")
	return nil
}

// PIDPath is where a running daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "scanpipe.pid")
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "scanpipe.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("config snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.String("estimator_provider", cfg.Estimator.Provider),
		logging.Bool("estimator_key_present", strings.TrimSpace(cfg.Estimator.APIKey) != ""),
		logging.String("insight_provider", cfg.Insight.Provider),
		logging.String("insight_on_failure", cfg.Insight.OnFailure),
		logging.Bool("insight_key_present", strings.TrimSpace(cfg.Insight.APIKey) != ""),
		logging.Bool("pubsub_enabled", cfg.Notifications.PubSubTopic != ""),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("sentry_enabled", cfg.Sentry.DSN != ""),
		logging.String("api_bind", cfg.API.Bind),
		logging.Int("workers", cfg.Pipeline.Workers),
		logging.Int("max_attempts", cfg.Pipeline.MaxAttempts),
	)
}
