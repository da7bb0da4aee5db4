package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scanpipe/internal/config"
)

const userAgent = "scanpipe/0.1.0"

// Event identifies a scan outcome.
type Event string

const (
	EventScanCompleted Event = "scan.completed"
	EventScanFailed    Event = "scan.failed"
	EventScanRejected  Event = "scan.qc_failed"
	EventTest          Event = "test"
)

// Payload carries event fields. Keys follow the scan JSON names.
type Payload map[string]any

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Service publishes scan outcome events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Option adds transports to NewService.
type Option func(*multiService)

// WithPublisher adds an extra transport, typically a PubSub publisher.
func WithPublisher(svc Service) Option {
	return func(m *multiService) {
		if svc != nil {
			m.targets = append(m.targets, svc)
		}
	}
}

// NewService builds the configured fan-out. Event filters from the
// notifications config apply to every transport.
func NewService(cfg *config.Config, opts ...Option) Service {
	m := &multiService{}
	if cfg != nil {
		m.completed = cfg.Notifications.Completed
		m.failures = cfg.Notifications.Failures
		if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
			timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			m.targets = append(m.targets, &ntfyService{endpoint: topic, client: &http.Client{Timeout: timeout}})
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.targets) == 0 {
		return noopService{}
	}
	return m
}

type multiService struct {
	targets   []Service
	completed bool
	failures  bool
}

func (m *multiService) Publish(ctx context.Context, event Event, payload Payload) error {
	switch event {
	case EventScanCompleted:
		if !m.completed {
			return nil
		}
	case EventScanFailed, EventScanRejected:
		if !m.failures {
			return nil
		}
	}
	var errs []error
	for _, target := range m.targets {
		if err := target.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, p Payload) error {
	subject := strings.TrimSpace(p.text("userId") + " " + p.text("date"))
	var data payload
	switch event {
	case EventScanCompleted:
		message := "Scan completed: " + subject
		if p["degraded"] == true {
			message += " (template insight)"
		}
		data = payload{
			title:   "scanpipe - Scan Completed",
			message: message,
			tags:    []string{"scanpipe", "scan", "completed"},
		}
	case EventScanRejected:
		data = payload{
			title:   "scanpipe - Photos Rejected",
			message: fmt.Sprintf("Scan %s: %s", subject, p.text("reason")),
			tags:    []string{"scanpipe", "qc", "rejected"},
		}
	case EventScanFailed:
		var builder strings.Builder
		builder.WriteString("Scan failed")
		if subject != "" {
			builder.WriteString(" for ")
			builder.WriteString(subject)
		}
		if stage := p.text("stage"); stage != "" {
			builder.WriteString(" at ")
			builder.WriteString(stage)
		}
		builder.WriteString(": ")
		if reason := p.text("reason"); reason != "" {
			builder.WriteString(reason)
		} else {
			builder.WriteString("unknown")
		}
		data = payload{
			title:    "scanpipe - Scan Failed",
			message:  builder.String(),
			tags:     []string{"scanpipe", "error", "alert"},
			priority: "high",
		}
	case EventTest:
		data = payload{
			title:    "scanpipe - Test",
			message:  "Notification system test",
			tags:     []string{"scanpipe", "test"},
			priority: "low",
		}
	default:
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
