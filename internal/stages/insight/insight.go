// Package insight writes the short narrative shown with each scan. A model
// generates it when one is configured; a deterministic template is used
// otherwise and as the degraded fallback.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"scanpipe/internal/logging"
	"scanpipe/internal/metrics"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// Failure policies.
const (
	PolicyDegrade = "degrade"
	PolicyFail    = "fail"
)

// Generator produces prose from a system and user prompt. llm.Client and
// gemini.Client satisfy it.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Writer implements the insight stage.
type Writer struct {
	generator Generator
	policy    string
	maxWords  int
	logger    *slog.Logger
}

var (
	_ stage.Handler  = (*Writer)(nil)
	_ stage.Degrader = (*Writer)(nil)
)

// New builds the writer. A nil generator selects the template.
func New(generator Generator, policy string, maxWords int, logger *slog.Logger) *Writer {
	policy = strings.ToLower(strings.TrimSpace(policy))
	if policy != PolicyFail {
		policy = PolicyDegrade
	}
	if maxWords <= 0 {
		maxWords = 80
	}
	return &Writer{
		generator: generator,
		policy:    policy,
		maxWords:  maxWords,
		logger:    logging.NewComponentLogger(logger, "insight-writer"),
	}
}

func (w *Writer) SetLogger(logger *slog.Logger) {
	w.logger = logging.NewComponentLogger(logger, "insight-writer")
}

func (w *Writer) Stage() scan.Stage { return scan.StageInsightWriter }

func (w *Writer) HealthCheck(context.Context) stage.Health {
	if w.generator == nil {
		return stage.Limited(scan.StageInsightWriter, "template only")
	}
	return stage.Healthy(scan.StageInsightWriter)
}

func (w *Writer) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	est, deltas, bound, err := inputs(sc)
	if err != nil {
		return scan.Patch{}, err
	}
	data, err := w.WriteInsight(ctx, *est, *deltas, bound)
	if err != nil {
		return scan.Patch{}, err
	}
	return scan.Patch{Insight: &data}.WithStatus(scan.StatusInsightWritten), nil
}

// WriteInsight returns model text that passed the absent-data check, or the
// template when no generator is configured.
func (w *Writer) WriteInsight(ctx context.Context, est scan.BodyEstimate, deltas scan.DeltaComparison, bound scan.BoundContext) (scan.InsightData, error) {
	f := newFacts(est, deltas, bound)
	if w.generator == nil {
		return scan.InsightData{Text: renderTemplate(f), Source: scan.InsightSourceTemplate, Figures: f.figures()}, nil
	}

	text, err := w.generator.Generate(ctx, buildSystemPrompt(w.maxWords), buildUserPrompt(f))
	if err != nil {
		return scan.InsightData{}, err
	}
	text = strings.TrimSpace(text)
	if err := checkText(text, f); err != nil {
		return scan.InsightData{}, services.Wrap(services.ErrValidation, string(scan.StageInsightWriter), "check text", err.Error(), err)
	}
	if words := wordCount(text); words > 2*w.maxWords {
		return scan.InsightData{}, services.Wrap(services.ErrValidation, string(scan.StageInsightWriter), "check text",
			fmt.Sprintf("insight has %d words, limit %d", words, w.maxWords), nil)
	}
	return scan.InsightData{
		Text:    text,
		Source:  scan.InsightSourceModel,
		Model:   w.generator.Model(),
		Figures: f.figures(),
	}, nil
}

// Fallback is the degraded insight used when generation keeps failing.
func Fallback(est scan.BodyEstimate, deltas scan.DeltaComparison, bound scan.BoundContext) scan.InsightData {
	f := newFacts(est, deltas, bound)
	return scan.InsightData{
		Text:     renderTemplate(f),
		Source:   scan.InsightSourceTemplate,
		Degraded: true,
		Figures:  f.figures(),
	}
}

// Degrade substitutes the template under the degrade policy. Missing inputs
// and cancellation are never papered over.
func (w *Writer) Degrade(_ context.Context, sc *scan.Scan, cause error) (scan.Patch, bool) {
	if w.policy != PolicyDegrade {
		return scan.Patch{}, false
	}
	switch services.KindOf(cause) {
	case services.KindCancelled, services.KindInvalidInput:
		return scan.Patch{}, false
	}
	est, deltas, bound, err := inputs(sc)
	if err != nil {
		return scan.Patch{}, false
	}
	data := Fallback(*est, *deltas, bound)
	metrics.ObserveDegradation(string(scan.StageInsightWriter))
	logging.WarnWithContext(w.logger, "insight degraded to template", "policy_degradation",
		logging.String(logging.FieldErrorKind, string(services.KindPolicyDegradation)),
		logging.String("cause_kind", string(services.KindOf(cause))),
		logging.String(logging.FieldErrorHint, "check insight provider health"),
		logging.String(logging.FieldImpact, "user sees a templated summary"),
		logging.Error(cause),
	)
	return scan.Patch{Insight: &data}.WithStatus(scan.StatusInsightWritten), true
}

func inputs(sc *scan.Scan) (*scan.BodyEstimate, *scan.DeltaComparison, scan.BoundContext, error) {
	est, err := stage.RequireEstimate(scan.StageInsightWriter, sc)
	if err != nil {
		return nil, nil, scan.BoundContext{}, err
	}
	deltas, err := stage.RequireDeltas(scan.StageInsightWriter, sc)
	if err != nil {
		return nil, nil, scan.BoundContext{}, err
	}
	var bound scan.BoundContext
	if sc.Context != nil {
		bound = *sc.Context
	}
	return est, deltas, bound, nil
}
