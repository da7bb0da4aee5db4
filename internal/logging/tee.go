package logging

import (
	"context"
	"log/slog"
)

// teeHandler writes every record to the primary handler and copies records
// at or above floor to the sinks.
type teeHandler struct {
	primary slog.Handler
	sinks   []slog.Handler
	floor   slog.Level
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.primary.Enabled(ctx, level) {
		return true
	}
	if level < h.floor {
		return false
	}
	for _, sink := range h.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	if h.primary.Enabled(ctx, record.Level) {
		firstErr = h.primary.Handle(ctx, record.Clone())
	}
	if record.Level < h.floor {
		return firstErr
	}
	for _, sink := range h.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &teeHandler{primary: h.primary.WithAttrs(attrs), floor: h.floor, sinks: make([]slog.Handler, len(h.sinks))}
	for i, sink := range h.sinks {
		next.sinks[i] = sink.WithAttrs(attrs)
	}
	return next
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := &teeHandler{primary: h.primary.WithGroup(name), floor: h.floor, sinks: make([]slog.Handler, len(h.sinks))}
	for i, sink := range h.sinks {
		next.sinks[i] = sink.WithGroup(name)
	}
	return next
}

// TeeLogger keeps base's output unchanged and copies records at or above
// floor into sinks. Nil sinks are ignored, so callers can pass optional
// handlers such as the Sentry breadcrumb sink directly.
func TeeLogger(base *slog.Logger, floor slog.Level, sinks ...slog.Handler) *slog.Logger {
	if base == nil {
		base = NewNop()
	}
	var kept []slog.Handler
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return slog.New(&teeHandler{primary: base.Handler(), sinks: kept, floor: floor})
}
