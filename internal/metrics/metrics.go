// Package metrics exposes gateway metrics in Prometheus format on the admin
// server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's Prometheus collectors on a private registry
// so tests can run collectors side by side.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ConfigEvents    *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
}

// New creates a metrics set with the gateway collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by route, method and status code.",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request latency by route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		ConfigEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_config_events_total",
			Help: "Configuration events consumed, by topic and result.",
		}, []string{"topic", "result"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by rate limiting, by route.",
		}, []string{"route"}),
	}
}

// RecordRateLimited counts a request rejected by rate limiting.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimited.WithLabelValues(route).Inc()
}

// RegisterRouteGauge exports the current route table size.
func (m *Metrics) RegisterRouteGauge(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_routes",
		Help: "Number of routes in the registry.",
	}, func() float64 { return float64(size()) }))
}

// Handler returns the /metrics export handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed request.
func (m *Metrics) RecordRequest(route, method string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordConfigEvent records a consumed configuration event outcome.
func (m *Metrics) RecordConfigEvent(topic, result string) {
	m.ConfigEvents.WithLabelValues(topic, result).Inc()
}

// Middleware instruments requests. routeLabel maps a finished request to a
// bounded label (route id, not raw path).
func (m *Metrics) Middleware(routeLabel func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.RecordRequest(routeLabel(r), r.Method, sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
