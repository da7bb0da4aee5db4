package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeQC()
	c.normalizeEstimator()
	c.normalizeInsight()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeSentry()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		c.API.Token = lookupEnv("SCANPIPE_API_TOKEN")
	}
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.ProjectID = strings.TrimSpace(c.Store.ProjectID)
	if c.Store.ProjectID == "" {
		c.Store.ProjectID = lookupEnv("GOOGLE_CLOUD_PROJECT")
	}
	if strings.TrimSpace(c.Store.CredentialsFile) != "" {
		var err error
		if c.Store.CredentialsFile, err = expandPath(c.Store.CredentialsFile); err != nil {
			return fmt.Errorf("store.credentials_file: %w", err)
		}
	}
	if c.Store.ProfileCacheSize <= 0 {
		c.Store.ProfileCacheSize = defaultProfileCacheSize
	}
	if c.Store.ProfileCacheTTLSeconds <= 0 {
		c.Store.ProfileCacheTTLSeconds = defaultProfileCacheTTLSeconds
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.InitialBackoffMillis <= 0 {
		c.Pipeline.InitialBackoffMillis = defaultInitialBackoffMillis
	}
	if c.Pipeline.BackoffCoefficient <= 0 {
		c.Pipeline.BackoffCoefficient = defaultBackoffCoefficient
	}
	if c.Pipeline.MaxBackoffSeconds <= 0 {
		c.Pipeline.MaxBackoffSeconds = defaultMaxBackoffSeconds
	}
	if c.Pipeline.DefaultStageTimeout <= 0 {
		c.Pipeline.DefaultStageTimeout = defaultStageTimeoutSeconds
	}
	if c.Pipeline.StageTimeouts == nil {
		c.Pipeline.StageTimeouts = map[string]int{}
	}
	normalized := make(map[string]int, len(c.Pipeline.StageTimeouts))
	for stage, seconds := range c.Pipeline.StageTimeouts {
		key := strings.ToLower(strings.TrimSpace(stage))
		if key == "" {
			continue
		}
		normalized[key] = seconds
	}
	c.Pipeline.StageTimeouts = normalized
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
}

func (c *Config) normalizeQC() {
	angles := make([]string, 0, len(c.QC.RequiredAngles))
	seen := make(map[string]struct{}, len(c.QC.RequiredAngles))
	for _, angle := range c.QC.RequiredAngles {
		normalized := strings.ToLower(strings.TrimSpace(angle))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		angles = append(angles, normalized)
	}
	if len(angles) == 0 {
		angles = append(angles, defaultRequiredAngles...)
	}
	c.QC.RequiredAngles = angles
}

func (c *Config) normalizeEstimator() {
	c.Estimator.Provider = strings.ToLower(strings.TrimSpace(c.Estimator.Provider))
	if c.Estimator.Provider == "" {
		c.Estimator.Provider = defaultEstimatorProvider
	}
	c.Estimator.Endpoint = strings.TrimSpace(c.Estimator.Endpoint)
	if c.Estimator.Endpoint == "" {
		c.Estimator.Endpoint = lookupEnv("VISION_API_ENDPOINT")
	}
	c.Estimator.Model = strings.TrimSpace(c.Estimator.Model)
	if c.Estimator.Model == "" {
		c.Estimator.Model = defaultGeminiModel
	}
	c.Estimator.APIKey = strings.TrimSpace(c.Estimator.APIKey)
	if c.Estimator.APIKey == "" {
		switch c.Estimator.Provider {
		case "gemini":
			c.Estimator.APIKey = lookupEnv("GEMINI_API_KEY")
		default:
			c.Estimator.APIKey = lookupEnv("VISION_API_KEY")
		}
	}
	if c.Estimator.TimeoutSeconds <= 0 {
		c.Estimator.TimeoutSeconds = 90
	}
}

func (c *Config) normalizeInsight() {
	c.Insight.Provider = strings.ToLower(strings.TrimSpace(c.Insight.Provider))
	if c.Insight.Provider == "" {
		c.Insight.Provider = defaultInsightProvider
	}
	c.Insight.OnFailure = strings.ToLower(strings.TrimSpace(c.Insight.OnFailure))
	if c.Insight.OnFailure == "" {
		c.Insight.OnFailure = defaultInsightOnFailure
	}
	c.Insight.BaseURL = strings.TrimSpace(c.Insight.BaseURL)
	if c.Insight.BaseURL == "" {
		c.Insight.BaseURL = defaultInsightBaseURL
	}
	c.Insight.Model = strings.TrimSpace(c.Insight.Model)
	if c.Insight.Model == "" {
		if c.Insight.Provider == "gemini" {
			c.Insight.Model = defaultGeminiModel
		} else {
			c.Insight.Model = defaultInsightModel
		}
	}
	c.Insight.Referer = strings.TrimSpace(c.Insight.Referer)
	if c.Insight.Referer == "" {
		c.Insight.Referer = defaultInsightReferer
	}
	c.Insight.Title = strings.TrimSpace(c.Insight.Title)
	if c.Insight.Title == "" {
		c.Insight.Title = defaultInsightTitle
	}
	c.Insight.APIKey = strings.TrimSpace(c.Insight.APIKey)
	if c.Insight.APIKey == "" {
		switch c.Insight.Provider {
		case "gemini":
			c.Insight.APIKey = lookupEnv("GEMINI_API_KEY")
		case "llm":
			if value := lookupEnv("LLM_API_KEY"); value != "" {
				c.Insight.APIKey = value
			} else {
				c.Insight.APIKey = lookupEnv("OPENROUTER_API_KEY")
			}
		}
	}
	if c.Insight.MaxWords <= 0 {
		c.Insight.MaxWords = defaultInsightMaxWords
	}
	if c.Insight.TimeoutSeconds <= 0 {
		c.Insight.TimeoutSeconds = 45
	}
}

func (c *Config) normalizeStorage() error {
	if strings.TrimSpace(c.Storage.LocalRoot) != "" {
		var err error
		if c.Storage.LocalRoot, err = expandPath(c.Storage.LocalRoot); err != nil {
			return fmt.Errorf("storage.local_root: %w", err)
		}
	}
	if strings.TrimSpace(c.Storage.CredentialsFile) != "" {
		var err error
		if c.Storage.CredentialsFile, err = expandPath(c.Storage.CredentialsFile); err != nil {
			return fmt.Errorf("storage.credentials_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.PubSubTopic = strings.TrimSpace(c.Notifications.PubSubTopic)
	c.Notifications.PubSubProjectID = strings.TrimSpace(c.Notifications.PubSubProjectID)
	if c.Notifications.PubSubProjectID == "" {
		c.Notifications.PubSubProjectID = c.Store.ProjectID
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeSentry() {
	c.Sentry.DSN = strings.TrimSpace(c.Sentry.DSN)
	if c.Sentry.DSN == "" {
		c.Sentry.DSN = lookupEnv("SENTRY_DSN")
	}
	c.Sentry.Environment = strings.TrimSpace(c.Sentry.Environment)
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "development"
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func lookupEnv(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
