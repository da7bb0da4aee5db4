package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"scanpipe/internal/config"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SCANPIPE_API_TOKEN", "GEMINI_API_KEY", "VISION_API_KEY", "VISION_API_ENDPOINT",
		"LLM_API_KEY", "OPENROUTER_API_KEY", "SENTRY_DSN", "GOOGLE_CLOUD_PROJECT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("VISION_API_ENDPOINT", "https://vision.test/estimate")
	t.Setenv("LLM_API_KEY", "llm-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "scanpipe")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "scanpipe.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.API.Bind != "127.0.0.1:7610" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Estimator.Endpoint != "https://vision.test/estimate" {
		t.Fatalf("expected estimator endpoint from env, got %q", cfg.Estimator.Endpoint)
	}
	if cfg.Insight.APIKey != "llm-key" {
		t.Fatalf("expected insight key from env, got %q", cfg.Insight.APIKey)
	}
	if cfg.Insight.OnFailure != "degrade" {
		t.Fatalf("expected degrade policy by default, got %q", cfg.Insight.OnFailure)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend by default, got %q", cfg.Store.Backend)
	}

	attempts, initial, coefficient, maxBackoff := cfg.RetryPolicy()
	if attempts != 4 || initial != time.Second || coefficient != 2 || maxBackoff != 30*time.Second {
		t.Fatalf("unexpected retry policy: %d %s %v %s", attempts, initial, coefficient, maxBackoff)
	}
	if got := cfg.StageTimeout("bf_estimator"); got != 120*time.Second {
		t.Fatalf("unexpected estimator timeout: %s", got)
	}
	if got := cfg.StageTimeout("unknown"); got != 60*time.Second {
		t.Fatalf("unexpected default stage timeout: %s", got)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearSecretEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "scanpipe.toml")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Pipeline struct {
			MaxAttempts   int            `toml:"max_attempts"`
			StageTimeouts map[string]int `toml:"stage_timeouts"`
		} `toml:"pipeline"`
		Estimator struct {
			Provider string `toml:"provider"`
			APIKey   string `toml:"api_key"`
		} `toml:"estimator"`
		Insight struct {
			Provider  string `toml:"provider"`
			OnFailure string `toml:"on_failure"`
		} `toml:"insight"`
		QC struct {
			RequiredAngles []string `toml:"required_angles"`
		} `toml:"qc"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Pipeline.MaxAttempts = 5
	custom.Pipeline.StageTimeouts = map[string]int{"Insight_Writer": 5}
	custom.Estimator.Provider = "gemini"
	custom.Estimator.APIKey = "gem-key"
	custom.Insight.Provider = "template"
	custom.Insight.OnFailure = "fail"
	custom.QC.RequiredAngles = []string{" Front ", "front", "BACK"}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.Pipeline.MaxAttempts)
	}
	if got := cfg.StageTimeout("insight_writer"); got != 5*time.Second {
		t.Fatalf("expected normalized stage timeout key, got %s", got)
	}
	if cfg.Estimator.Model != "gemini-2.0-flash" {
		t.Fatalf("expected default gemini model, got %q", cfg.Estimator.Model)
	}
	if cfg.Insight.OnFailure != "fail" {
		t.Fatalf("expected fail policy, got %q", cfg.Insight.OnFailure)
	}
	if strings.Join(cfg.QC.RequiredAngles, ",") != "front,back" {
		t.Fatalf("unexpected required angles %v", cfg.QC.RequiredAngles)
	}
}

func TestFileValuesWinOverEnvFallbacks(t *testing.T) {
	clearSecretEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "scanpipe.toml")
	contents := `
[estimator]
provider = "gemini"
api_key = "file-gemini"

[insight]
provider = "gemini"

[sentry]
dsn = "https://file@sentry.test/1"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("SENTRY_DSN", "https://env@sentry.test/2")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Estimator.APIKey != "file-gemini" {
		t.Errorf("expected estimator key from file, got %q", cfg.Estimator.APIKey)
	}
	if cfg.Insight.APIKey != "env-gemini" {
		t.Errorf("expected insight key from env fallback, got %q", cfg.Insight.APIKey)
	}
	if cfg.Sentry.DSN != "https://file@sentry.test/1" {
		t.Errorf("expected sentry dsn from file, got %q", cfg.Sentry.DSN)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StateDir, "scanpipe") {
		t.Fatalf("expected state dir to contain scanpipe, got %q", cfg.Paths.StateDir)
	}
	if cfg.Pipeline.StageTimeouts["bf_estimator"] != 120 {
		t.Fatalf("expected sample stage timeouts, got %v", cfg.Pipeline.StageTimeouts)
	}
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Estimator.Endpoint = "https://vision.test"
	cfg.Insight.Provider = "template"
	return cfg
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"too few attempts", func(c *config.Config) { c.Pipeline.MaxAttempts = 2 }},
		{"too many attempts", func(c *config.Config) { c.Pipeline.MaxAttempts = 6 }},
		{"coefficient", func(c *config.Config) { c.Pipeline.BackoffCoefficient = 0.5 }},
		{"flat backoff", func(c *config.Config) { c.Pipeline.BackoffCoefficient = 1 }},
		{"cap below first increase", func(c *config.Config) {
			c.Pipeline.InitialBackoffMillis = 1000
			c.Pipeline.BackoffCoefficient = 2
			c.Pipeline.MaxBackoffSeconds = 1
		}},
		{"negative history page", func(c *config.Config) { c.Deltas.HistoryPageDays = -1 }},
		{"unknown stage timeout", func(c *config.Config) { c.Pipeline.StageTimeouts["ripping"] = 10 }},
		{"heartbeat", func(c *config.Config) { c.Pipeline.HeartbeatTimeoutSeconds = c.Pipeline.HeartbeatIntervalSeconds }},
		{"backend", func(c *config.Config) { c.Store.Backend = "postgres" }},
		{"firestore project", func(c *config.Config) { c.Store.Backend = "firestore"; c.Store.ProjectID = "" }},
		{"http endpoint", func(c *config.Config) { c.Estimator.Endpoint = "" }},
		{"gemini key", func(c *config.Config) { c.Estimator.Provider = "gemini"; c.Estimator.APIKey = "" }},
		{"insight policy", func(c *config.Config) { c.Insight.OnFailure = "ignore" }},
		{"insight key", func(c *config.Config) { c.Insight.Provider = "llm"; c.Insight.APIKey = "" }},
		{"brightness", func(c *config.Config) { c.QC.MinBrightness = 0.95 }},
		{"pubsub project", func(c *config.Config) { c.Notifications.PubSubTopic = "t"; c.Notifications.PubSubProjectID = "" }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		cfg.Pipeline.StageTimeouts = map[string]int{"vision_qc": 30}
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
