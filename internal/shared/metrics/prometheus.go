package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Simulation metrics
	sessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simulation_sessions_started_total",
			Help: "Total number of simulation sessions started",
		},
	)

	sessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulation_sessions_ended_total",
			Help: "Total number of simulation sessions ended, by reason code",
		},
		[]string{"reason"},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simulation_sessions_running",
			Help: "Number of sessions with a live tick loop",
		},
	)

	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simulation_ticks_total",
			Help: "Total number of simulation ticks processed",
		},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "simulation_tick_duration_seconds",
			Help:    "Time spent processing one tick",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	medicationAdjustments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simulation_medication_adjustments_total",
			Help: "Total number of medication dose adjustments",
		},
	)

	summaryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simulation_summary_failures_total",
			Help: "Summaries that could not be built or persisted",
		},
	)

	sessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simulation_sessions_evicted_total",
			Help: "Ended sessions removed by the retention janitor",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so session ids
// do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Simulation metric helpers ---

// RecordSessionStarted records a session start
func RecordSessionStarted() {
	sessionsStarted.Inc()
}

// RecordSessionEnded records a session end with its reason code
func RecordSessionEnded(reason string) {
	sessionsEnded.WithLabelValues(reason).Inc()
}

// SessionLoopStarted and SessionLoopStopped track live tick loops
func SessionLoopStarted() { sessionsActive.Inc() }

func SessionLoopStopped() { sessionsActive.Dec() }

// RecordTick records one processed tick
func RecordTick(duration time.Duration) {
	ticksTotal.Inc()
	tickDuration.Observe(duration.Seconds())
}

func RecordMedicationAdjusted() {
	medicationAdjustments.Inc()
}

func RecordSummaryFailure() {
	summaryFailures.Inc()
}

func RecordSessionsEvicted(n int) {
	sessionsEvicted.Add(float64(n))
}

// RecordDBQuery records a storage query duration
func RecordDBQuery(backend, operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
