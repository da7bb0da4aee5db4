package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// API contains the daemon HTTP surface settings.
type API struct {
	Bind                  string `toml:"bind"`
	Token                 string `toml:"token"`
	ReadTimeoutSeconds    int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int    `toml:"write_timeout_seconds"`
	SyncWaitTimeoutSecond int    `toml:"sync_wait_timeout_seconds"`
}

// Store selects the durable backend for scans and day context.
type Store struct {
	// Backend is "sqlite" or "firestore".
	Backend         string `toml:"backend"`
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
	// ProfileCacheSize and ProfileCacheTTLSeconds bound the in-memory profile cache.
	ProfileCacheSize       int `toml:"profile_cache_size"`
	ProfileCacheTTLSeconds int `toml:"profile_cache_ttl_seconds"`
}

// Pipeline contains orchestrator retry, timeout, and scheduling settings.
type Pipeline struct {
	MaxAttempts              int            `toml:"max_attempts"`
	InitialBackoffMillis     int            `toml:"initial_backoff_ms"`
	BackoffCoefficient       float64        `toml:"backoff_coefficient"`
	MaxBackoffSeconds        int            `toml:"max_backoff_seconds"`
	DefaultStageTimeout      int            `toml:"default_stage_timeout_seconds"`
	StageTimeouts            map[string]int `toml:"stage_timeouts"`
	Workers                  int            `toml:"workers"`
	PollIntervalSeconds      int            `toml:"poll_interval_seconds"`
	HeartbeatIntervalSeconds int            `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int            `toml:"heartbeat_timeout_seconds"`
}

// QC contains photo quality-control thresholds.
type QC struct {
	RequiredAngles     []string `toml:"required_angles"`
	MinBytes           int64    `toml:"min_bytes"`
	MinWidth           int      `toml:"min_width"`
	MinHeight          int      `toml:"min_height"`
	MaxAspectDrift     float64  `toml:"max_aspect_drift"`
	MinBrightness      float64  `toml:"min_brightness"`
	MaxBrightness      float64  `toml:"max_brightness"`
	MaxBrightnessDelta float64  `toml:"max_brightness_delta"`
}

// Estimator contains body-composition vision service settings.
type Estimator struct {
	// Provider is "http" or "gemini".
	Provider       string `toml:"provider"`
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Insight contains narrative generation settings.
type Insight struct {
	// Provider is "llm", "gemini", or "template".
	Provider string `toml:"provider"`
	// OnFailure is "degrade" (template fallback) or "fail".
	OnFailure      string  `toml:"on_failure"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	Referer        string  `toml:"referer"`
	Title          string  `toml:"title"`
	Temperature    float64 `toml:"temperature"`
	MaxWords       int     `toml:"max_words"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Deltas contains trend comparison settings.
type Deltas struct {
	// HistoryPageDays sizes each history read when walking back for the
	// streak; 0 reads the whole history at once.
	HistoryPageDays int     `toml:"history_page_days"`
	TrendThreshold  float64 `toml:"trend_threshold"`
}

// Storage contains object storage settings for scan photos.
type Storage struct {
	// LocalRoot resolves relative file:// URLs during development.
	LocalRoot       string `toml:"local_root"`
	CredentialsFile string `toml:"credentials_file"`
}

// Notifications contains configuration for outcome fan-out.
type Notifications struct {
	PubSubProjectID string `toml:"pubsub_project_id"`
	PubSubTopic     string `toml:"pubsub_topic"`
	NtfyTopic       string `toml:"ntfy_topic"`
	RequestTimeout  int    `toml:"request_timeout"`
	Completed       bool   `toml:"completed"`
	Failures        bool   `toml:"failures"`
}

// Sentry contains error reporting settings.
type Sentry struct {
	DSN              string  `toml:"dsn"`
	Environment      string  `toml:"environment"`
	TracesSampleRate float64 `toml:"traces_sample_rate"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes per-run daemon logs older than this at startup.
	// Zero keeps everything.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for scanpipe.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - API: daemon HTTP bind address and auth token
//   - Store: sqlite or firestore backend selection
//   - Pipeline: retry policy, stage timeouts, scheduler cadence
//   - QC: photo quality thresholds
//   - Estimator: vision service used for body-composition estimates
//   - Insight: narrative generator and failure policy
//   - Deltas: streak window and trend threshold
//   - Storage: object storage access for photos
//   - Notifications: Pub/Sub and ntfy outcome fan-out
//   - Sentry: error reporting
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Store         Store         `toml:"store"`
	Pipeline      Pipeline      `toml:"pipeline"`
	QC            QC            `toml:"qc"`
	Estimator     Estimator     `toml:"estimator"`
	Insight       Insight       `toml:"insight"`
	Deltas        Deltas        `toml:"deltas"`
	Storage       Storage       `toml:"storage"`
	Notifications Notifications `toml:"notifications"`
	Sentry        Sentry        `toml:"sentry"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scanpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("scanpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location inside the state directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "scanpipe.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "scanpipe.lock")
}

// StageTimeout returns the per-attempt timeout for the named stage.
func (c *Config) StageTimeout(stage string) time.Duration {
	if seconds, ok := c.Pipeline.StageTimeouts[stage]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(c.Pipeline.DefaultStageTimeout) * time.Second
}

// RetryPolicy returns the orchestrator retry settings as durations.
func (c *Config) RetryPolicy() (attempts int, initial time.Duration, coefficient float64, maxBackoff time.Duration) {
	return c.Pipeline.MaxAttempts,
		time.Duration(c.Pipeline.InitialBackoffMillis) * time.Millisecond,
		c.Pipeline.BackoffCoefficient,
		time.Duration(c.Pipeline.MaxBackoffSeconds) * time.Second
}

// ProfileCacheTTL returns the profile cache expiry.
func (c *Config) ProfileCacheTTL() time.Duration {
	return time.Duration(c.Store.ProfileCacheTTLSeconds) * time.Second
}

// LogRetention is how long per-run daemon logs are kept.
func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.Logging.RetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
