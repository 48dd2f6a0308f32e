package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the ledger.
type Metrics struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	invoicesTotal       *prometheus.CounterVec
	stockRejections     prometheus.Counter
	dispatchTransitions *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and ledger metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_invoices_total",
		Help: "Committed invoice mutations by operation.",
	}, []string{"op"})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_stock_rejections_total",
		Help: "Invoice writes rejected for insufficient stock.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_dispatch_transitions_total",
		Help: "Applied dispatch status transitions by target status.",
	}, []string{"to"})
	registry.MustRegister(requests, duration, invoices, rejections, transitions)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		invoicesTotal:       invoices,
		stockRejections:     rejections,
		dispatchTransitions: transitions,
	}
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route.
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

// InvoiceOp counts a committed invoice mutation.
func (m *Metrics) InvoiceOp(op string) {
	if m == nil {
		return
	}
	m.invoicesTotal.WithLabelValues(op).Inc()
}

// StockRejected counts an insufficient-stock rejection.
func (m *Metrics) StockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// DispatchTransition counts an applied status change.
func (m *Metrics) DispatchTransition(to string) {
	if m == nil {
		return
	}
	m.dispatchTransitions.WithLabelValues(to).Inc()
}

// Registerer exposes the registry for custom metrics.
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
