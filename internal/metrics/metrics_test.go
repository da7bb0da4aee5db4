package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/scans/{userID}/{date}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/scans/{userID}/{date}", "404"))
	req := httptest.NewRequest(http.MethodGet, "/api/scans/u1/2025-01-10", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/scans/{userID}/{date}", "404"))
	if after-before != 1 {
		t.Fatalf("expected one request counted under the route pattern, got %v", after-before)
	}
}

func TestObserveAttemptAndOutcome(t *testing.T) {
	before := testutil.ToFloat64(stageAttemptsTotal.WithLabelValues("bf_estimator", "retrying"))
	ObserveAttempt("bf_estimator", "retrying", 20*time.Millisecond)
	if got := testutil.ToFloat64(stageAttemptsTotal.WithLabelValues("bf_estimator", "retrying")) - before; got != 1 {
		t.Fatalf("attempt counter delta = %v", got)
	}

	outcomes := testutil.ToFloat64(pipelineOutcomesTotal.WithLabelValues("completed"))
	ObserveOutcome("completed")
	if got := testutil.ToFloat64(pipelineOutcomesTotal.WithLabelValues("completed")) - outcomes; got != 1 {
		t.Fatalf("outcome counter delta = %v", got)
	}

	InstanceStarted()
	InstanceFinished()
	if got := testutil.ToFloat64(instancesInFlight); got != 0 {
		t.Fatalf("in-flight gauge = %v", got)
	}
}
