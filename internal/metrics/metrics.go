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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminderd_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_runs_total",
			Help: "Total escalation runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminderd_run_duration_seconds",
			Help:    "Wall time of a full escalation run",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
	)

	remindersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_reminders_total",
			Help: "Reminder send attempts by status and tier",
		},
		[]string{"status", "tier"},
	)

	invoicesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_invoices_skipped_total",
			Help: "Invoices skipped during a run by reason",
		},
		[]string{"reason"},
	)

	invoicesEligible = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminderd_invoices_eligible",
			Help: "Eligible overdue invoices seen by the most recent run",
		},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminderd_mail_breaker_open",
			Help: "1 when the mail circuit breaker is open, 0 otherwise",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records the outcome of one escalation run
func RecordRun(trigger, outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(trigger, outcome).Inc()
	runDuration.Observe(duration.Seconds())
}

// RecordReminder records one ledger-recorded send attempt
func RecordReminder(status string, tier int) {
	remindersTotal.WithLabelValues(status, strconv.Itoa(tier)).Inc()
}

// RecordSkip records an invoice skipped without side effects
func RecordSkip(reason string) {
	invoicesSkipped.WithLabelValues(reason).Inc()
}

// SetEligibleInvoices sets the eligible-invoice count for the latest run
func SetEligibleInvoices(count int) {
	invoicesEligible.Set(float64(count))
}

// SetBreakerOpen reports whether the mail circuit breaker is open
func SetBreakerOpen(open bool) {
	if open {
		breakerState.Set(1)
	} else {
		breakerState.Set(0)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
