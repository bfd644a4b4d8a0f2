// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubscript_events_total",
			Help: "Dispatched events by kind and final outcome",
		},
		[]string{"kind", "outcome"},
	)
	actionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubscript_action_outcomes_total",
			Help: "Handler outcomes by action, outcome and reject kind",
		},
		[]string{"action_id", "outcome", "reject_kind"},
	)
	actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubscript_action_duration_seconds",
			Help:    "Handler run time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_id"},
	)
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubscript_action_retries_total",
			Help: "Retries of queued events after transient host failures",
		},
		[]string{"action_id"},
	)
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubscript_queue_depth",
			Help: "Events waiting in the processing queue",
		},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubscript_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordEvent counts a dispatched event.
func RecordEvent(kind, outcome string) {
	eventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAction counts a handler outcome and observes its run time.
func RecordAction(actionID, outcome, rejectKind string, d time.Duration) {
	actionOutcomes.WithLabelValues(actionID, outcome, rejectKind).Inc()
	actionDuration.WithLabelValues(actionID).Observe(d.Seconds())
}

// RecordRetry counts a retry of a queued event.
func RecordRetry(actionID string) {
	retriesTotal.WithLabelValues(actionID).Inc()
}

// SetQueueDepth reports the current processing queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request duration by method, route and status.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		httpRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
