package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldSessionID marks records from one diagnostic-mode daemon session.
	FieldSessionID = "session_id"
	// FieldRunID names the per-run log file a record was first written to.
	FieldRunID = "run_id"
)

// stampHandler adds a fixed set of attributes to every record. The daemon
// uses it for run_id and, in diagnostic mode, session_id.
type stampHandler struct {
	base  slog.Handler
	stamp []slog.Attr
}

func newStampHandler(base slog.Handler, stamp ...slog.Attr) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	kept := make([]slog.Attr, 0, len(stamp))
	for _, attr := range stamp {
		if attr.Key != "" && attr.Value.String() != "" {
			kept = append(kept, attr)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return &stampHandler{base: base, stamp: kept}
}

func (h *stampHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *stampHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(h.stamp...)
	return h.base.Handle(ctx, record)
}

func (h *stampHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &stampHandler{base: h.base.WithAttrs(attrs), stamp: h.stamp}
}

func (h *stampHandler) WithGroup(name string) slog.Handler {
	return &stampHandler{base: h.base.WithGroup(name), stamp: h.stamp}
}
