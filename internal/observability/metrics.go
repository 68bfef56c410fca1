package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application. The domain
// counters implement the metrics ports of the approvals and billing modules.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	approvalsTotal *prometheus.CounterVec
	entriesTotal   *prometheus.CounterVec
	unitsConsumed  prometheus.Counter
}

// NewMetrics initializes the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearpath_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clearpath_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	approvalsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearpath_approvals_processed_total",
		Help: "Approval decisions by item kind and action.",
	}, []string{"kind", "action"})
	entriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clearpath_billing_entries_generated_total",
		Help: "Billing entries generated by initial status.",
	}, []string{"status"})
	unitsConsumed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clearpath_authorization_units_consumed_total",
		Help: "Units consumed from authorization grants.",
	})
	registry.MustRegister(requests, duration, approvalsTotal, entriesTotal, unitsConsumed)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		approvalsTotal:  approvalsTotal,
		entriesTotal:    entriesTotal,
		unitsConsumed:   unitsConsumed,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ApprovalProcessed counts one approval decision.
func (m *Metrics) ApprovalProcessed(kind, action string) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(kind, action).Inc()
}

// EntryGenerated counts one generated billing entry by its initial status.
func (m *Metrics) EntryGenerated(status string) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(status).Inc()
}

// UnitsConsumed counts units drawn from the authorization ledger.
func (m *Metrics) UnitsConsumed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsConsumed.Add(float64(n))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
