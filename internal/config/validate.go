package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownStages = map[string]struct{}{
	"vision_qc":         {},
	"bf_estimator":      {},
	"meta_binder":       {},
	"delta_comparator":  {},
	"insight_writer":    {},
	"privacy_publisher": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateQC(); err != nil {
		return err
	}
	if err := c.validateEstimator(); err != nil {
		return err
	}
	if err := c.validateInsight(); err != nil {
		return err
	}
	if err := c.validateDeltas(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite":
		return nil
	case "firestore":
		if c.Store.ProjectID == "" {
			return errors.New("store.project_id is required for the firestore backend (or set GOOGLE_CLOUD_PROJECT)")
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite or firestore)", c.Store.Backend)
	}
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxAttempts < 3 || c.Pipeline.MaxAttempts > 5 {
		return errors.New("pipeline.max_attempts must be between 3 and 5")
	}
	if c.Pipeline.BackoffCoefficient <= 1 {
		return errors.New("pipeline.backoff_coefficient must be greater than 1")
	}
	// The cap must leave room for at least one increase.
	if float64(c.Pipeline.MaxBackoffSeconds)*1000 < float64(c.Pipeline.InitialBackoffMillis)*c.Pipeline.BackoffCoefficient {
		return errors.New("pipeline.max_backoff_seconds must be at least initial_backoff_ms times backoff_coefficient")
	}
	for stage, seconds := range c.Pipeline.StageTimeouts {
		if _, ok := knownStages[stage]; !ok {
			return fmt.Errorf("pipeline.stage_timeouts: unknown stage %q", stage)
		}
		if seconds <= 0 {
			return fmt.Errorf("pipeline.stage_timeouts.%s must be positive", stage)
		}
	}
	if err := ensurePositiveMap(map[string]int{
		"pipeline.poll_interval_seconds":  c.Pipeline.PollIntervalSeconds,
		"pipeline.workers":                c.Pipeline.Workers,
		"api.read_timeout_seconds":        c.API.ReadTimeoutSeconds,
		"api.write_timeout_seconds":       c.API.WriteTimeoutSeconds,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
		"estimator.timeout_seconds":       c.Estimator.TimeoutSeconds,
		"insight.timeout_seconds":         c.Insight.TimeoutSeconds,
		"api.sync_wait_timeout_seconds":   c.API.SyncWaitTimeoutSecond,
		"store.profile_cache_ttl_seconds": c.Store.ProfileCacheTTLSeconds,
	}); err != nil {
		return err
	}
	if c.Deltas.HistoryPageDays < 0 {
		return errors.New("deltas.history_page_days must not be negative")
	}
	if c.Pipeline.HeartbeatIntervalSeconds <= 0 {
		return errors.New("pipeline.heartbeat_interval_seconds must be positive")
	}
	if c.Pipeline.HeartbeatTimeoutSeconds <= c.Pipeline.HeartbeatIntervalSeconds {
		return errors.New("pipeline.heartbeat_timeout_seconds must be greater than pipeline.heartbeat_interval_seconds")
	}
	return nil
}

func (c *Config) validateQC() error {
	if c.QC.MinBytes < 0 {
		return errors.New("qc.min_bytes must be >= 0")
	}
	if c.QC.MinWidth < 0 || c.QC.MinHeight < 0 {
		return errors.New("qc.min_width and qc.min_height must be >= 0")
	}
	if c.QC.MaxAspectDrift < 0 || c.QC.MaxAspectDrift > 1 {
		return errors.New("qc.max_aspect_drift must be between 0 and 1")
	}
	if c.QC.MinBrightness < 0 || c.QC.MaxBrightness > 1 || c.QC.MinBrightness >= c.QC.MaxBrightness {
		return errors.New("qc.min_brightness and qc.max_brightness must satisfy 0 <= min < max <= 1")
	}
	if c.QC.MaxBrightnessDelta <= 0 || c.QC.MaxBrightnessDelta > 1 {
		return errors.New("qc.max_brightness_delta must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateEstimator() error {
	switch c.Estimator.Provider {
	case "http":
		if c.Estimator.Endpoint == "" {
			return errors.New("estimator.endpoint must be set when estimator.provider is http")
		}
	case "gemini":
		if c.Estimator.APIKey == "" {
			return errors.New("estimator.api_key must be set when estimator.provider is gemini (or set GEMINI_API_KEY)")
		}
	default:
		return fmt.Errorf("estimator.provider: unsupported value %q (want http or gemini)", c.Estimator.Provider)
	}
	return nil
}

func (c *Config) validateInsight() error {
	switch c.Insight.OnFailure {
	case "degrade", "fail":
	default:
		return fmt.Errorf("insight.on_failure: unsupported value %q (want degrade or fail)", c.Insight.OnFailure)
	}
	switch c.Insight.Provider {
	case "template":
	case "llm", "gemini":
		if c.Insight.APIKey == "" {
			return fmt.Errorf("insight.api_key must be set when insight.provider is %s", c.Insight.Provider)
		}
	default:
		return fmt.Errorf("insight.provider: unsupported value %q (want llm, gemini, or template)", c.Insight.Provider)
	}
	if c.Insight.Temperature < 0 || c.Insight.Temperature > 2 {
		return errors.New("insight.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateDeltas() error {
	if c.Deltas.TrendThreshold < 0 {
		return errors.New("deltas.trend_threshold must be >= 0")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.PubSubTopic != "" && strings.TrimSpace(c.Notifications.PubSubProjectID) == "" {
		return errors.New("notifications.pubsub_project_id must be set when notifications.pubsub_topic is set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
