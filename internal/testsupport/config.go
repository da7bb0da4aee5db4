package testsupport

import (
	"path/filepath"
	"testing"

	"scanpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry backoff is shrunk so pipeline tests do not sleep for seconds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.LocalRoot = filepath.Join(base, "photos")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Estimator.Endpoint = "http://127.0.0.1:0/estimate"
	cfgVal.Insight.Provider = "template"
	cfgVal.Pipeline.InitialBackoffMillis = 1
	cfgVal.Pipeline.MaxBackoffSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithInsightPolicy sets the insight failure policy ("degrade" or "fail").
func WithInsightPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Insight.OnFailure = policy
	}
}

// WithMaxAttempts overrides the pipeline retry budget.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxAttempts = attempts
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
