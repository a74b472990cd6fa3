package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks currently active agent sessions
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "herald_active_sessions",
			Help: "Number of active agent sessions",
		},
		[]string{"engine"},
	)

	// SessionDuration tracks how long agent runs take
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_session_duration_seconds",
			Help:    "Agent session duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"engine", "status"},
	)

	// EventsTranslated counts canonical events produced by the translator
	EventsTranslated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_events_translated_total",
			Help: "Total canonical events produced from agent streams",
		},
		[]string{"engine", "kind"},
	)

	// ControlResponses counts control responses written to agent stdin
	ControlResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_control_responses_total",
			Help: "Total control responses by decision",
		},
		[]string{"decision"},
	)

	// ProgressEdits counts anchor message edits
	ProgressEdits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_progress_edits_total",
			Help: "Total progress message edits by outcome",
		},
		[]string{"outcome"},
	)

	// WebhookRequests counts trigger webhook requests
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_webhook_requests_total",
			Help: "Total webhook requests by status code",
		},
		[]string{"path", "status"},
	)

	// WebhookDuration tracks webhook handling latency
	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_webhook_duration_seconds",
			Help:    "Webhook request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// TriggerRuns counts trigger-originated dispatches
	TriggerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_trigger_runs_total",
			Help: "Total trigger dispatches by source",
		},
		[]string{"source"},
	)

	// CostAccumulated tracks USD reported by agent runs
	CostAccumulated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_cost_usd_total",
			Help: "Total USD cost reported by agent runs",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware creates an HTTP middleware that records webhook metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		WebhookRequests.WithLabelValues(path, strconv.Itoa(wrapped.statusCode)).Inc()
		WebhookDuration.WithLabelValues(path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/health", "/metrics":
		return path
	default:
		if len(path) > 6 && path[:6] == "/hook/" {
			return "/hook"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart increments the active session gauge
func RecordSessionStart(engine string) {
	ActiveSessions.WithLabelValues(engine).Inc()
}

// RecordSessionEnd decrements the active session gauge and records duration
func RecordSessionEnd(engine, status string, durationSeconds float64) {
	ActiveSessions.WithLabelValues(engine).Dec()
	SessionDuration.WithLabelValues(engine, status).Observe(durationSeconds)
}

// RecordEvent records a translated canonical event
func RecordEvent(engine, kind string) {
	EventsTranslated.WithLabelValues(engine, kind).Inc()
}

// RecordControlResponse records a control response decision
func RecordControlResponse(decision string) {
	ControlResponses.WithLabelValues(decision).Inc()
}

// RecordProgressEdit records a progress edit outcome (sent, skipped, failed)
func RecordProgressEdit(outcome string) {
	ProgressEdits.WithLabelValues(outcome).Inc()
}

// RecordTriggerRun records a trigger dispatch
func RecordTriggerRun(source string) {
	TriggerRuns.WithLabelValues(source).Inc()
}

// RecordCost adds to the accumulated cost counter
func RecordCost(usd float64) {
	if usd > 0 {
		CostAccumulated.Add(usd)
	}
}
