// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
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

	// JobsDispatchedTotal counts jobs dispatched by mode (async/rpc).
	JobsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_dispatched_total",
			Help: "Total number of jobs dispatched",
		},
		[]string{"mode"},
	)
	// JobsSettledTotal counts job settlements by outcome (done/failed).
	JobsSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_settled_total",
			Help: "Total number of jobs settled, by outcome",
		},
		[]string{"outcome"},
	)
	// JobsRefundedTotal counts refund credits issued on job failure.
	JobsRefundedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_refunded_total",
			Help: "Total number of refund credits issued on job failure",
		},
		[]string{"reason"},
	)

	// WalletDebitsTotal counts wallet debit attempts by outcome (ok/insufficient_funds).
	WalletDebitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_debits_total",
			Help: "Total number of conditional debit attempts, by outcome",
		},
		[]string{"outcome"},
	)
	// WalletCreditsTotal counts wallet credits by source (refund, admin_direct,
	// replenish_auto, replenish_approved).
	WalletCreditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_credits_total",
			Help: "Total number of wallet credits, by source",
		},
		[]string{"source"},
	)

	// BusPublishDuration records publish confirm latency by outcome.
	BusPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_publish_duration_seconds",
			Help:    "Time from publish to confirm or final failure",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"outcome"},
	)
	// BusPublishRetriesTotal counts publish retry attempts.
	BusPublishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_retries_total",
			Help: "Total number of publish retry attempts",
		},
		[]string{"exchange"},
	)
	// RPCInFlight is a gauge of currently outstanding RPC reply slots.
	RPCInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpc_slots_in_flight",
			Help: "Number of RPC reply slots currently awaiting a correlated reply",
		},
	)
	// RPCTimeoutsTotal counts RPC calls that timed out or were reaped.
	RPCTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_timeouts_total",
			Help: "Total number of RPC calls that timed out or were reaped",
		},
	)

	// OutboxBacklog is a gauge of the number of outbox rows claimed in the
	// most recent drain.
	OutboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Number of outbox rows claimed in the most recent drain that were still pending",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsDispatchedTotal)
	prometheus.MustRegister(JobsSettledTotal)
	prometheus.MustRegister(JobsRefundedTotal)
	prometheus.MustRegister(WalletDebitsTotal)
	prometheus.MustRegister(WalletCreditsTotal)
	prometheus.MustRegister(BusPublishDuration)
	prometheus.MustRegister(BusPublishRetriesTotal)
	prometheus.MustRegister(RPCInFlight)
	prometheus.MustRegister(RPCTimeoutsTotal)
	prometheus.MustRegister(OutboxBacklog)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordDispatch increments the dispatched-jobs counter for the given mode.
func RecordDispatch(mode string) {
	JobsDispatchedTotal.WithLabelValues(mode).Inc()
}

// RecordSettlement increments the settled-jobs counter for the given outcome.
func RecordSettlement(outcome string) {
	JobsSettledTotal.WithLabelValues(outcome).Inc()
}

// RecordRefund increments the refund counter for the given reason.
func RecordRefund(reason string) {
	JobsRefundedTotal.WithLabelValues(reason).Inc()
}

// RecordDebit increments the wallet-debit counter for the given outcome.
func RecordDebit(outcome string) {
	WalletDebitsTotal.WithLabelValues(outcome).Inc()
}

// RecordCredit increments the wallet-credit counter for the given source.
func RecordCredit(source string) {
	WalletCreditsTotal.WithLabelValues(source).Inc()
}

// RecordPublish observes publish latency and outcome.
func RecordPublish(outcome string, seconds float64) {
	BusPublishDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordPublishRetry increments the publish-retry counter for an exchange.
func RecordPublishRetry(exchange string) {
	BusPublishRetriesTotal.WithLabelValues(exchange).Inc()
}

// RecordRPCTimeout increments the RPC timeout/reaper counter.
func RecordRPCTimeout() {
	RPCTimeoutsTotal.Inc()
}

// SetOutboxBacklog sets the outbox backlog gauge to n.
func SetOutboxBacklog(n int) {
	OutboxBacklog.Set(float64(n))
}
