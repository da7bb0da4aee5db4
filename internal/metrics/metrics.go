// Package metrics registers the Prometheus collectors for the pipeline, the
// day-context cache, and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanpipe_stage_attempts_total",
			Help: "Stage attempts by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanpipe_stage_duration_seconds",
			Help:    "Duration of individual stage attempts in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	pipelineOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanpipe_pipeline_outcomes_total",
			Help: "Finished pipeline instances by terminal status.",
		},
		[]string{"status"},
	)

	instancesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanpipe_instances_in_flight",
		Help: "Pipeline instances currently running in this process.",
	})

	degradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanpipe_policy_degradations_total",
			Help: "Stages that fell back to a degraded result.",
		},
		[]string{"stage"},
	)

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanpipe_profile_cache_hits_total",
		Help: "Profile cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanpipe_profile_cache_misses_total",
		Help: "Profile cache misses.",
	})
)

// ObserveAttempt records one stage attempt.
func ObserveAttempt(stage, outcome string, elapsed time.Duration) {
	stageAttemptsTotal.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveOutcome records a finished pipeline instance.
func ObserveOutcome(status string) {
	pipelineOutcomesTotal.WithLabelValues(status).Inc()
}

// InstanceStarted and InstanceFinished track the in-flight gauge.
func InstanceStarted()  { instancesInFlight.Inc() }
func InstanceFinished() { instancesInFlight.Dec() }

// ObserveDegradation records a degraded stage result.
func ObserveDegradation(stage string) {
	degradationsTotal.WithLabelValues(stage).Inc()
}

// CacheHit and CacheMiss count profile cache lookups.
func CacheHit()  { cacheHitsTotal.Inc() }
func CacheMiss() { cacheMissesTotal.Inc() }
