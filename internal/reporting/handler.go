package reporting

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// BreadcrumbHandler turns warn and error log records into Sentry
// breadcrumbs so a captured failure carries the log lines that led to it.
type BreadcrumbHandler struct {
	reporter *Reporter
	attrs    []slog.Attr
	group    string
}

// Handler returns a slog handler for use with logging.TeeLogger.
func (r *Reporter) Handler() slog.Handler {
	if !r.Enabled() {
		return nil
	}
	return &BreadcrumbHandler{reporter: r}
}

func (h *BreadcrumbHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn
}

func (h *BreadcrumbHandler) Handle(_ context.Context, record slog.Record) error {
	data := make(map[string]any, len(h.attrs)+record.NumAttrs())
	add := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		data[key] = scrubText(a.Value.Resolve().String())
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	record.Attrs(add)

	level := sentry.LevelWarning
	if record.Level >= slog.LevelError {
		level = sentry.LevelError
	}
	category := "log"
	if component, ok := data["component"].(string); ok && component != "" {
		category = component
	}
	h.reporter.AddBreadcrumb(level, category, record.Message, data)
	return nil
}

func (h *BreadcrumbHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *BreadcrumbHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}
