package stage

import (
	"context"
	"log/slog"

	"scanpipe/internal/scan"
)

// Handler describes the contract the pipeline manager needs from each stage.
// Run computes the stage's field group from the persisted scan and returns it
// as a single-group patch; it never writes to the store itself.
type Handler interface {
	Stage() scan.Stage
	Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error)
	HealthCheck(ctx context.Context) Health
}

// LoggerAware handlers receive the per-run logger before Run.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Degrader is implemented by non-critical stages that can substitute a
// fallback result when Run keeps failing. Degrade reports false when policy
// or the failure kind forbids substitution.
type Degrader interface {
	Degrade(ctx context.Context, sc *scan.Scan, cause error) (scan.Patch, bool)
}
