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
			Name: "intake_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Conversation engine metrics
	agentSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_agent_steps_total",
			Help: "Total number of conversation steps executed",
		},
		[]string{"step"},
	)

	agentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_agent_fallbacks_total",
			Help: "Steps that fell back to deterministic behaviour after a model failure",
		},
		[]string{"step"},
	)

	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_llm_requests_total",
			Help: "Total number of LLM requests",
		},
		[]string{"operation", "status"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_sessions_total",
			Help: "Session lifecycle transitions",
		},
		[]string{"outcome"},
	)

	emergencyAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_emergency_alerts_total",
			Help: "Emergency alerts raised",
		},
		[]string{"level", "source"},
	)

	completionScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intake_completion_score",
			Help:    "Weighted completeness percentage at session completion",
			Buckets: []float64{10, 25, 50, 70, 90, 100},
		},
	)

	streamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_stream_subscribers",
			Help: "Open session event streams",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_context_cache_lookups_total",
			Help: "Conversation context cache lookups",
		},
		[]string{"result"},
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

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
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

// Flush keeps SSE responses streaming through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routePattern uses the chi route template so session ids do not become labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// RecordAgentStep counts one executed conversation step.
func RecordAgentStep(step string) {
	agentSteps.WithLabelValues(step).Inc()
}

// RecordAgentFallback counts a step that used its deterministic fallback.
func RecordAgentFallback(step string) {
	agentFallbacks.WithLabelValues(step).Inc()
}

// RecordLLMRequest records an LLM call outcome and latency.
func RecordLLMRequest(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmRequestsTotal.WithLabelValues(operation, status).Inc()
	llmRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSession records a session lifecycle outcome (created, completed,
// emergency, paused, timeout, resumed, handoff).
func RecordSession(outcome string) {
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEmergencyAlert records a raised alert.
func RecordEmergencyAlert(level, source string) {
	emergencyAlerts.WithLabelValues(level, source).Inc()
}

// RecordCompletionScore observes the completeness percentage of a finished session.
func RecordCompletionScore(pct float64) {
	completionScore.Observe(pct)
}

// SetStreamSubscribers sets the number of open event streams.
func SetStreamSubscribers(n int) {
	streamSubscribers.Set(float64(n))
}

// RecordCacheLookup records a context cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}
