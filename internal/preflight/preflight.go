package preflight

import (
	"context"
	"strings"

	"scanpipe/internal/config"
	"scanpipe/internal/scan"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Severity maps a result onto the ok/warn/error scale used by status output.
func (r Result) Severity() string {
	switch {
	case r.Passed:
		return "ok"
	case r.Optional:
		return "warn"
	default:
		return "error"
	}
}

// StoreOpener opens the configured scan store for a probe.
type StoreOpener func(ctx context.Context, cfg *config.Config) (scan.Repository, error)

// RunAll executes all applicable preflight checks for the given config.
// openStore may be nil, in which case the store probe is skipped.
func RunAll(ctx context.Context, cfg *config.Config, openStore StoreOpener) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if openStore != nil {
		results = append(results, CheckStore(ctx, cfg, openStore))
	}
	results = append(results, CheckEstimator(ctx, cfg))
	results = append(results, CheckInsight(ctx, cfg))
	results = append(results, CheckStorage(cfg)...)
	results = append(results, CheckNotifications(cfg))
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}

func present(value string) bool {
	return strings.TrimSpace(value) != ""
}
