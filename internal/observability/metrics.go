package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matt-hans/shipagent/internal/carrier"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// CarrierRequestsTotal counts carrier subprocess calls by operation and
	// outcome.
	CarrierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrier_requests_total",
			Help: "Total number of carrier subprocess calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	// CarrierRequestDuration records carrier call durations by operation.
	CarrierRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carrier_request_duration_seconds",
			Help:    "Carrier subprocess call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	// JobsCreatedTotal counts jobs opened via CreateJob.
	JobsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Total number of batch jobs created",
		},
	)
	// JobsRunning is a gauge of jobs currently in `running` status. The
	// single-worker invariant means this is always 0 or 1, but a gauge
	// still makes a stuck job visible on a dashboard.
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of batch jobs currently running (0 or 1 under the single-writer invariant)",
		},
	)
	// JobsCompletedTotal counts jobs that reached `completed`.
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of batch jobs completed",
		},
	)
	// JobsFailedTotal counts jobs that reached `failed`.
	JobsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of batch jobs failed",
		},
	)
	// JobsCancelledTotal counts jobs that reached `cancelled`.
	JobsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Total number of batch jobs cancelled",
		},
	)

	// RowOutcomesTotal counts row-level terminal outcomes by status.
	RowOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_row_outcomes_total",
			Help: "Total number of job rows reaching a terminal status, by status",
		},
		[]string{"status"},
	)

	// AggregateCostMinorUnits is the per-job aggregate shipping cost,
	// recorded once at job completion.
	AggregateCostMinorUnits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_aggregate_cost_minor_units",
			Help:    "Distribution of a completed job's aggregate shipping cost, in minor currency units",
			Buckets: prometheus.ExponentialBuckets(100, 4, 10),
		},
	)

	// CarrierCircuitStatus mirrors internal/carrier's per-operation circuit
	// breaker state (0=closed, 1=open, 2=half-open).
	CarrierCircuitStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carrier_circuit_status",
			Help: "Carrier circuit breaker status by operation (0=closed, 1=open, 2=half-open)",
		},
		[]string{"operation"},
	)
)

// InitMetrics registers every metric above with the default Prometheus
// registry. Call once at process startup.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CarrierRequestsTotal)
	prometheus.MustRegister(CarrierRequestDuration)
	prometheus.MustRegister(JobsCreatedTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsCancelledTotal)
	prometheus.MustRegister(RowOutcomesTotal)
	prometheus.MustRegister(AggregateCostMinorUnits)
	prometheus.MustRegister(CarrierCircuitStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// RecordCarrierCall records one carrier subprocess call's outcome and
// duration.
func RecordCarrierCall(operation string, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CarrierRequestsTotal.WithLabelValues(operation, outcome).Inc()
	CarrierRequestDuration.WithLabelValues(operation).Observe(dur.Seconds())
}

// RecordJobCreated increments the created-jobs counter.
func RecordJobCreated() { JobsCreatedTotal.Inc() }

// RecordJobStarted marks a job as running.
func RecordJobStarted() { JobsRunning.Inc() }

// RecordJobCompleted marks a job's end of run and its terminal outcome.
func RecordJobCompleted(aggregateCostMinorUnits int64) {
	JobsRunning.Dec()
	JobsCompletedTotal.Inc()
	AggregateCostMinorUnits.Observe(float64(aggregateCostMinorUnits))
}

// RecordJobFailed marks a job's end of run as failed.
func RecordJobFailed() {
	JobsRunning.Dec()
	JobsFailedTotal.Inc()
}

// RecordJobCancelled marks a job's end of run as cancelled.
func RecordJobCancelled() {
	JobsRunning.Dec()
	JobsCancelledTotal.Inc()
}

// RecordRowOutcome increments the terminal row-outcome counter for status
// (one of "shipped", "failed", "skipped").
func RecordRowOutcome(status string) {
	RowOutcomesTotal.WithLabelValues(status).Inc()
}

// PollCarrierCircuits snapshots client's per-operation circuit breaker
// states into CarrierCircuitStatus. Intended to be called periodically
// (e.g. from the same loop that serves /metrics) since breaker state isn't
// pushed on every call.
func PollCarrierCircuits(client *carrier.Client) {
	for op, state := range client.CircuitStates() {
		CarrierCircuitStatus.WithLabelValues(op).Set(float64(state))
	}
}
