// Package reporting forwards pipeline failures to Sentry. Without a DSN
// every call is a no-op.
package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"

	"scanpipe/internal/config"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

// Reporter captures failed scans on its own hub.
type Reporter struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

// Init builds a reporter from the sentry config section.
func Init(cfg config.Sentry, release string, logger *slog.Logger) (*Reporter, error) {
	if cfg.DSN == "" {
		if logger != nil {
			logger.Debug("sentry dsn not configured, error reporting disabled")
		}
		return &Reporter{logger: logger}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: cfg.TracesSampleRate,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	if logger != nil {
		logger.Info("sentry initialized", "environment", cfg.Environment, "release", release)
	}
	return New(client, logger), nil
}

// New wraps an existing client.
func New(client *sentry.Client, logger *slog.Logger) *Reporter {
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope()), logger: logger}
}

// Enabled reports whether events leave the process.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// CaptureFailure records a scan that ended in failed. Business rejections
// and operator cancels are expected outcomes and are skipped.
func (r *Reporter) CaptureFailure(ctx context.Context, sc *scan.Scan, stage scan.Stage, err error) {
	if !r.Enabled() || err == nil {
		return
	}
	details := services.Details(err)
	switch details.Kind {
	case services.KindBusinessRejection, services.KindCancelled:
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("stage", string(stage))
		scope.SetTag("error_kind", string(details.Kind))
		if sc != nil {
			scope.SetTag("scan_id", sc.ID)
			scope.SetContext("scan", sentry.Context{
				"user_id": sc.UserID,
				"date":    sc.Date,
				"status":  string(sc.Status),
			})
		}
		if requestID, ok := services.RequestIDFromContext(ctx); ok {
			scope.SetTag("request_id", requestID)
		}
		scope.SetFingerprint([]string{string(stage), string(details.Kind), details.Operation})
		r.hub.CaptureException(err)
	})
	if r.logger != nil {
		r.logger.Debug("failure captured in sentry", "stage", string(stage), "error_kind", string(details.Kind))
	}
}

// AddBreadcrumb attaches a log line to the next captured event.
func (r *Reporter) AddBreadcrumb(level sentry.Level, category, message string, data map[string]any) {
	if !r.Enabled() {
		return
	}
	r.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     level,
		Data:      data,
		Timestamp: time.Now(),
	}, nil)
}

// Flush waits for queued events.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

var (
	objectURLPattern = regexp.MustCompile(`\b(?:gs|file)://[^\s"']+`)
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]+`)
	apiKeyPattern    = regexp.MustCompile(`(?i)(key|token)=[^\s&"']+`)
)

func scrubText(s string) string {
	s = objectURLPattern.ReplaceAllString(s, "[object-url]")
	s = bearerPattern.ReplaceAllString(s, "Bearer [redacted]")
	return apiKeyPattern.ReplaceAllString(s, "$1=[redacted]")
}

// scrubEvent strips credentials and photo locations before an event leaves
// the process.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil {
		return nil
	}
	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
		}
		event.Request.URL = scrubText(event.Request.URL)
		event.Request.QueryString = scrubText(event.Request.QueryString)
	}
	event.Message = scrubText(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = scrubText(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = scrubText(event.Breadcrumbs[i].Message)
	}
	return event
}
