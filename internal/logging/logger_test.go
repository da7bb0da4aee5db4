package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scanpipe/internal/config"
	"scanpipe/internal/logging"
	"scanpipe/internal/services"
)

func TestNewFromConfigWritesCLILog(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, false)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	logger.Info("hello file")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "scanpipe-cli.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("expected a json record, got %q: %v", content, err)
	}
	if record["msg"] != "hello file" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerLiftsScanSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-subject.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("stage completed",
		logging.String(logging.FieldComponent, "pipeline"),
		logging.String(logging.FieldScanID, "0f8fad5b-d9cb-469f-a165-70867728950e"),
		logging.String(logging.FieldStage, "vision_qc"),
		logging.Int("attempt", 1),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "pipeline: [scan 0f8fad5b · vision_qc] stage completed") {
		t.Fatalf("expected lifted subject, got %q", line)
	}
	if strings.Contains(line, "scan_id=") {
		t.Fatalf("expected scan_id to be lifted out of key/values, got %q", line)
	}
	if !strings.Contains(line, "attempt=1") {
		t.Fatalf("expected attempt field, got %q", line)
	}
}

func TestNewJSONLoggerWithSession(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}, SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if payload["msg"] != "json message" || payload["level"] != "info" || payload["k"] != "v" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload[logging.FieldSessionID] != "sess-1" {
		t.Fatalf("expected session id, got %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type recordingHandler struct {
	records *[]slog.Record
	attrs   []slog.Attr
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	*h.records = append(*h.records, r)
	return nil
}

func (h recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return recordingHandler{records: h.records, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h recordingHandler) WithGroup(string) slog.Handler { return h }

func recordAttrs(r slog.Record) map[string]slog.Value {
	out := map[string]slog.Value{}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value
		return true
	})
	return out
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithScanID(ctx, "scan-1")
	ctx = services.WithInstanceKey(ctx, "u1:2025-01-10")
	ctx = services.WithStage(ctx, "delta_comparator")
	ctx = services.WithRequestID(ctx, "req-xyz")

	var records []slog.Record
	logger := slog.New(recordingHandler{records: &records})

	logging.WithContext(ctx, logger).Info("contextual log")

	if len(records) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(records))
	}
	attrs := recordAttrs(records[0])
	for key, want := range map[string]string{
		logging.FieldScanID:        "scan-1",
		logging.FieldInstanceKey:   "u1:2025-01-10",
		logging.FieldStage:         "delta_comparator",
		logging.FieldCorrelationID: "req-xyz",
	} {
		got, ok := attrs[key]
		if !ok || got.String() != want {
			t.Fatalf("field %s = %v, want %s", key, got, want)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var records []slog.Record
	logger := slog.New(recordingHandler{records: &records})

	logging.WarnWithContext(logger, "insight degraded", "insight_degraded", logging.String(logging.FieldImpact, "template insight published"))

	attrs := recordAttrs(records[0])
	if attrs[logging.FieldEventType].String() != "insight_degraded" {
		t.Fatalf("unexpected event type %v", attrs[logging.FieldEventType])
	}
	if attrs[logging.FieldImpact].String() != "template insight published" {
		t.Fatalf("expected caller impact to win, got %v", attrs[logging.FieldImpact])
	}
	if _, ok := attrs[logging.FieldErrorHint]; !ok {
		t.Fatal("expected default hint")
	}
}

func TestErrorAttrsClassifiesFailure(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "bf_estimator", "validate", "body fat out of range", errors.New("142"))
	attrs := logging.ErrorAttrs(err)
	found := map[string]string{}
	for _, a := range attrs {
		found[a.Key] = a.Value.String()
	}
	if found[logging.FieldErrorKind] != string(services.KindValidation) {
		t.Fatalf("unexpected kind %q", found[logging.FieldErrorKind])
	}
	if found[logging.FieldErrorOperation] != "validate" {
		t.Fatalf("unexpected operation %q", found[logging.FieldErrorOperation])
	}
	if logging.ErrorAttrs(nil) != nil {
		t.Fatal("expected nil attrs for nil error")
	}
}

func TestFormatSubject(t *testing.T) {
	cases := map[[2]string]string{
		{"0f8fad5b-d9cb", "bf_estimator"}: "scan 0f8fad5b · bf_estimator",
		{"abc", ""}:                       "scan abc",
		{"", "daemon"}:                    "daemon",
		{"", ""}:                          "",
	}
	for input, want := range cases {
		if got := logging.FormatSubject(input[0], input[1]); got != want {
			t.Fatalf("FormatSubject(%q, %q) = %q, want %q", input[0], input[1], got, want)
		}
	}
}

func TestConsoleFormatsMeasurements(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-values.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
		RunID:            "run-1",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("estimate recorded",
		logging.Float64("body_fat_pct", 18.123456),
		logging.Duration("elapsed", 1234567*time.Microsecond),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "body_fat_pct=18.1235") {
		t.Fatalf("expected rounded float, got %q", line)
	}
	if !strings.Contains(line, "elapsed=1.235s") {
		t.Fatalf("expected millisecond duration, got %q", line)
	}
	if strings.Contains(line, "run-1") {
		t.Fatalf("console output should not repeat run_id: %q", line)
	}
}

func TestMeasurementAttrsOmitsZeroWeight(t *testing.T) {
	attrs := logging.MeasurementAttrs(18.2, 64.1, 0, 0.9)
	if logging.HasAttrKey(attrs, "weight_kg") {
		t.Fatalf("zero weight should be omitted: %v", attrs)
	}
	attrs = logging.MeasurementAttrs(18.2, 64.1, 78.4, 0.9)
	if !logging.HasAttrKey(attrs, "weight_kg") {
		t.Fatalf("weight missing: %v", attrs)
	}
	instance := logging.InstanceAttrs("u1", "2025-01-10")
	if !logging.HasAttrKey(instance, logging.FieldUserID) || !logging.HasAttrKey(instance, logging.FieldScanDate) {
		t.Fatalf("unexpected instance attrs: %v", instance)
	}
}
