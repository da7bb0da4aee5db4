package logs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scanpipe/internal/logging"
)

// PruneResult lists what PruneRunLogs removed and what it could not.
type PruneResult struct {
	Removed []string
	Errors  []PruneError
}

// PruneError pairs a file with its removal error.
type PruneError struct {
	Path  string
	Error error
}

// PruneRunLogs removes per-run daemon logs (scanpipe-*.log) in logDir and
// logDir/debug whose modification time is older than maxAge. The file the
// scanpipe.log pointer resolves to is always kept. A non-positive maxAge
// disables pruning.
func PruneRunLogs(ctx context.Context, logDir string, maxAge time.Duration, logger *slog.Logger) PruneResult {
	result := PruneResult{}
	logDir = strings.TrimSpace(logDir)
	if logDir == "" || maxAge <= 0 {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cutoff := time.Now().Add(-maxAge)
	for _, dir := range []string{logDir, filepath.Join(logDir, "debug")} {
		if ctx.Err() != nil {
			return result
		}
		pruneDir(dir, cutoff, &result, logger)
	}
	if len(result.Removed) > 0 {
		logger.Info("pruned old run logs",
			logging.Int("removed", len(result.Removed)),
			logging.Duration("retention", maxAge),
			logging.String(logging.FieldEventType, "log_retention"),
		)
	}
	return result
}

func pruneDir(dir string, cutoff time.Time, result *PruneResult, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, PruneError{Path: dir, Error: err})
		}
		return
	}
	current, _ := os.Stat(filepath.Join(dir, "scanpipe.log"))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isRunLog(name) {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			continue
		}
		if current != nil && os.SameFile(current, info) {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			logger.Warn("failed to remove old run log",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "log_retention_failed"),
				logging.String(logging.FieldErrorHint, "check log_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
	}
}

func isRunLog(name string) bool {
	return strings.HasPrefix(name, "scanpipe-") && strings.HasSuffix(name, ".log") && name != "scanpipe-cli.log"
}
