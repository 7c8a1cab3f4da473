package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/{id}", "418"))

	req := httptest.NewRequest(http.MethodGet, "/sessions/0b6d1c44-5c4f-4f39-9f0e-8e7a9e0a1d11", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/{id}", "418"))
	if after != before+1 {
		t.Errorf("Expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestSimulationCounters(t *testing.T) {
	before := testutil.ToFloat64(sessionsEnded.WithLabelValues("targets_met"))
	RecordSessionEnded("targets_met")
	if got := testutil.ToFloat64(sessionsEnded.WithLabelValues("targets_met")); got != before+1 {
		t.Errorf("Expected %v, got %v", before+1, got)
	}

	SessionLoopStarted()
	SessionLoopStarted()
	SessionLoopStopped()
	if got := testutil.ToFloat64(sessionsActive); got < 1 {
		t.Errorf("Expected at least one running loop, got %v", got)
	}
	SessionLoopStopped()
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordSessionStarted()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "simulation_sessions_started_total") {
		t.Error("Expected simulation_sessions_started_total in metrics output")
	}
}
