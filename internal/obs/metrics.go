package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetdesk_authz_decisions_total",
			Help: "Permission checks made by route guards.",
		},
		[]string{"module", "action", "result"},
	)

	storeBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetdesk_store_breaker_state",
			Help: "Document store circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assetdesk_audit_record_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	registerOnce sync.Once
)

// InitMetrics registers metrics in the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, storeBreakerState, auditFailures)
	})
}

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthz counts one guard decision.
func ObserveAuthz(module, action string, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	authzDecisions.WithLabelValues(module, action, result).Inc()
}

// SetBreakerState records the numeric circuit breaker state.
func SetBreakerState(name string, state int) {
	storeBreakerState.WithLabelValues(name).Set(float64(state))
}

// AuditFailed counts an audit entry that was lost.
func AuditFailed() { auditFailures.Inc() }

// Instrument measures rate, latency and in-flight requests. It must run inside
// the chi router so the matched route pattern is known after the handler.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
