package config

const (
	defaultStateDir               = "~/.local/share/scanpipe"
	defaultLogDir                 = "~/.local/share/scanpipe/logs"
	defaultAPIBind                = "127.0.0.1:7610"
	defaultStoreBackend           = "sqlite"
	defaultProfileCacheSize       = 512
	defaultProfileCacheTTLSeconds = 300
	defaultMaxAttempts            = 4
	defaultInitialBackoffMillis   = 1000
	defaultBackoffCoefficient     = 2.0
	defaultMaxBackoffSeconds      = 30
	defaultStageTimeoutSeconds    = 60
	defaultWorkers                = 4
	defaultPollIntervalSeconds    = 5
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultEstimatorProvider      = "http"
	defaultGeminiModel            = "gemini-2.0-flash"
	defaultInsightProvider        = "llm"
	defaultInsightOnFailure       = "degrade"
	defaultInsightBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultInsightModel           = "google/gemini-3-flash-preview"
	defaultInsightReferer         = "https://github.com/scanpipe/scanpipe"
	defaultInsightTitle           = "scanpipe insight writer"
	defaultInsightMaxWords        = 80
	defaultHistoryPageDays        = 90
	defaultTrendThreshold         = 0.2
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 14
)

var defaultRequiredAngles = []string{"front", "side", "back"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			Bind:                  defaultAPIBind,
			ReadTimeoutSeconds:    10,
			WriteTimeoutSeconds:   300,
			SyncWaitTimeoutSecond: 240,
		},
		Store: Store{
			Backend:                defaultStoreBackend,
			ProfileCacheSize:       defaultProfileCacheSize,
			ProfileCacheTTLSeconds: defaultProfileCacheTTLSeconds,
		},
		Pipeline: Pipeline{
			MaxAttempts:          defaultMaxAttempts,
			InitialBackoffMillis: defaultInitialBackoffMillis,
			BackoffCoefficient:   defaultBackoffCoefficient,
			MaxBackoffSeconds:    defaultMaxBackoffSeconds,
			DefaultStageTimeout:  defaultStageTimeoutSeconds,
			StageTimeouts: map[string]int{
				"vision_qc":         30,
				"bf_estimator":      120,
				"meta_binder":       15,
				"delta_comparator":  15,
				"insight_writer":    60,
				"privacy_publisher": 15,
			},
			Workers:                  defaultWorkers,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			HeartbeatIntervalSeconds: defaultHeartbeatInterval,
			HeartbeatTimeoutSeconds:  defaultHeartbeatTimeout,
		},
		QC: QC{
			RequiredAngles:     append([]string(nil), defaultRequiredAngles...),
			MinBytes:           20 * 1024,
			MinWidth:           480,
			MinHeight:          640,
			MaxAspectDrift:     0.15,
			MinBrightness:      0.15,
			MaxBrightness:      0.90,
			MaxBrightnessDelta: 0.25,
		},
		Estimator: Estimator{
			Provider:       defaultEstimatorProvider,
			Model:          defaultGeminiModel,
			TimeoutSeconds: 90,
		},
		Insight: Insight{
			Provider:       defaultInsightProvider,
			OnFailure:      defaultInsightOnFailure,
			BaseURL:        defaultInsightBaseURL,
			Model:          defaultInsightModel,
			Referer:        defaultInsightReferer,
			Title:          defaultInsightTitle,
			Temperature:    0.4,
			MaxWords:       defaultInsightMaxWords,
			TimeoutSeconds: 45,
		},
		Deltas: Deltas{
			HistoryPageDays: defaultHistoryPageDays,
			TrendThreshold:  defaultTrendThreshold,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Completed:      true,
			Failures:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
