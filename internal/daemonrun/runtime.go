package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"scanpipe/internal/config"
	"scanpipe/internal/daycontext"
	"scanpipe/internal/firestore"
	"scanpipe/internal/logging"
	"scanpipe/internal/notifications"
	"scanpipe/internal/photostore"
	"scanpipe/internal/pipeline"
	"scanpipe/internal/reporting"
	"scanpipe/internal/scan"
	"scanpipe/internal/scanstore"
	"scanpipe/internal/services/gemini"
	"scanpipe/internal/services/llm"
	"scanpipe/internal/services/visionapi"
	"scanpipe/internal/stages/bfestimator"
	"scanpipe/internal/stages/deltas"
	"scanpipe/internal/stages/insight"
	"scanpipe/internal/stages/metabinder"
	"scanpipe/internal/stages/publisher"
	"scanpipe/internal/stages/visionqc"
)

// Runtime holds the opened backends and the configured pipeline shared by
// the daemon and one-shot CLI commands.
type Runtime struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      scan.Repository
	DayContext *daycontext.Cached
	Photos     *photostore.Router
	Manager    *pipeline.Manager
	Reporter   *reporting.Reporter

	closers []io.Closer
}

// RuntimeOptions tune Open.
type RuntimeOptions struct {
	Reporter *reporting.Reporter
	// Notify disables outcome notifications when false; one-shot CLI runs
	// leave them to the daemon.
	Notify bool
	// Estimator overrides the configured vision service (tests).
	Estimator bfestimator.Service
}

// Open connects the configured store, photo storage, and model providers and
// returns a pipeline with all six stages registered.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Reporter: opts.Reporter}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, store)

	rt.DayContext = daycontext.New(store, cfg.Store.ProfileCacheSize, cfg.ProfileCacheTTL(), logger)
	rt.Photos = photostore.NewRouter(&photostore.Local{Root: cfg.Storage.LocalRoot}, func(ctx context.Context) (*photostore.GCS, error) {
		return photostore.NewGCS(ctx, cfg.Storage.CredentialsFile)
	})

	var geminiClient *gemini.Client
	if (cfg.Estimator.Provider == "gemini" && opts.Estimator == nil) || cfg.Insight.Provider == "gemini" {
		apiKey := cfg.Insight.APIKey
		if cfg.Estimator.Provider == "gemini" {
			apiKey = firstNonEmpty(cfg.Estimator.APIKey, apiKey)
		}
		geminiClient, err = gemini.New(ctx, gemini.Config{
			APIKey:      apiKey,
			VisionModel: cfg.Estimator.Model,
			TextModel:   cfg.Insight.Model,
			Temperature: float32(cfg.Insight.Temperature),
		}, rt.Photos)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, geminiClient)
	}

	estimator := opts.Estimator
	if estimator == nil {
		estimator, err = estimatorService(cfg, geminiClient)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	notifier, err := openNotifier(ctx, cfg, opts.Notify, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	managerOpts := []pipeline.Option{pipeline.WithNotifier(notifier)}
	if opts.Reporter != nil {
		managerOpts = append(managerOpts, pipeline.WithReporter(opts.Reporter))
	}
	rt.Manager = pipeline.NewManager(cfg, store, logger, managerOpts...)
	if err := rt.Manager.ConfigureStages(pipeline.StageSet{
		VisionQC:         visionqc.New(cfg.QC, rt.Photos, logger),
		BFEstimator:      bfestimator.New(estimator, store, logger),
		MetaBinder:       metabinder.New(rt.DayContext, logger),
		DeltaComparator:  deltas.New(store, cfg.Deltas.HistoryPageDays, cfg.Deltas.TrendThreshold, logger),
		InsightWriter:    insight.New(insightGenerator(cfg, geminiClient), cfg.Insight.OnFailure, cfg.Insight.MaxWords, logger),
		PrivacyPublisher: publisher.New(store, logger),
	}); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// OpenStore opens the configured scan repository.
func OpenStore(ctx context.Context, cfg *config.Config) (scan.Repository, error) {
	switch cfg.Store.Backend {
	case "firestore":
		client, err := firestore.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		store, err := scanstore.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open scan store: %w", err)
		}
		return store, nil
	}
}

// Close stops the pipeline and releases every opened client.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Manager != nil {
		rt.Manager.Stop()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.Logger.Warn("close runtime resource", logging.Error(err))
		}
	}
	rt.closers = nil
}

func estimatorService(cfg *config.Config, geminiClient *gemini.Client) (bfestimator.Service, error) {
	switch cfg.Estimator.Provider {
	case "gemini":
		if geminiClient == nil {
			return nil, errors.New("gemini estimator requested but no client configured")
		}
		return geminiClient, nil
	default:
		return visionapi.NewClient(visionapi.Config{
			Endpoint:       cfg.Estimator.Endpoint,
			APIKey:         cfg.Estimator.APIKey,
			TimeoutSeconds: cfg.Estimator.TimeoutSeconds,
		}), nil
	}
}

// insightGenerator returns nil for the template provider so every insight
// comes from the deterministic fallback.
func insightGenerator(cfg *config.Config, geminiClient *gemini.Client) insight.Generator {
	switch cfg.Insight.Provider {
	case "gemini":
		return geminiClient
	case "llm":
		return llm.NewClient(llm.Config{
			APIKey:         cfg.Insight.APIKey,
			BaseURL:        cfg.Insight.BaseURL,
			Model:          cfg.Insight.Model,
			Referer:        cfg.Insight.Referer,
			Title:          cfg.Insight.Title,
			Temperature:    cfg.Insight.Temperature,
			TimeoutSeconds: cfg.Insight.TimeoutSeconds,
		})
	default:
		return nil
	}
}

func openNotifier(ctx context.Context, cfg *config.Config, enabled bool, rt *Runtime) (notifications.Service, error) {
	if !enabled {
		return notifications.NewService(nil), nil
	}
	publisher, err := notifications.OpenPubSub(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		return notifications.NewService(cfg), nil
	}
	rt.closers = append(rt.closers, publisher)
	return notifications.NewService(cfg, notifications.WithPublisher(publisher)), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
