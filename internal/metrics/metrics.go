// Package metrics provides Prometheus instrumentation for kestrel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScansTotal counts scan runs by profile mode and result.
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total scan runs by profile mode and result.",
		},
		[]string{"mode", "result"},
	)

	// ScanStageDuration observes time spent per pipeline stage.
	ScanStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_stage_duration_seconds",
			Help:      "Scan duration in seconds by stage.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// TransactionsScored counts scored transactions.
	TransactionsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_scored_total",
		Help:      "Total transactions scored.",
	})

	// TransactionsFlagged counts flagged transactions.
	TransactionsFlagged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_flagged_total",
		Help:      "Total transactions flagged by at least one rule.",
	})

	// RuleTriggersTotal counts rule firings by rule tag.
	RuleTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_triggers_total",
			Help:      "Total rule firings by rule.",
		},
		[]string{"rule"},
	)

	// CacheLookupsTotal counts scan cache lookups by result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cache_lookups_total",
			Help:      "Scan cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)

	// AlertsTotal counts alerts handled by the worker by result.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts handled by the worker by result (stored, skipped, failed).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScansTotal,
		ScanStageDuration,
		TransactionsScored,
		TransactionsFlagged,
		RuleTriggersTotal,
		CacheLookupsTotal,
		AlertsTotal,
	)
}

// ObserveScan records a finished run.
func ObserveScan(result *domain.ScanResult) {
	ScansTotal.WithLabelValues(string(result.Mode), "ok").Inc()
	ScanStageDuration.WithLabelValues("features").Observe(millis(result.Metadata.FeaturesMs))
	ScanStageDuration.WithLabelValues("rules").Observe(millis(result.Metadata.RulesMs))
	ScanStageDuration.WithLabelValues("total").Observe(millis(result.Metadata.TotalMs))

	TransactionsScored.Add(float64(result.Stats.TotalTransactions))
	TransactionsFlagged.Add(float64(result.Stats.FlaggedTransactions))
	for _, id := range domain.AllRules {
		if n := result.Stats.Triggers(id); n > 0 {
			RuleTriggersTotal.WithLabelValues(id.Tag()).Add(float64(n))
		}
	}
}

// ObserveScanFailure records a run that returned an error.
func ObserveScanFailure(mode domain.ProfileMode) {
	ScansTotal.WithLabelValues(string(mode), "error").Inc()
}

func millis(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}

// Middleware records request metrics under the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(rw.status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusBucket groups HTTP status codes into classes (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
