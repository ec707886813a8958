// Package metrics exposes Prometheus counters for the auth flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics
	SessionOperationsTotal *prometheus.CounterVec
	GuardDecisionsTotal    *prometheus.CounterVec
}

// New creates and registers all metrics on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idm_session_operations_total",
				Help: "Session operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idm_guard_decisions_total",
				Help: "Bearer token authentication decisions",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionOperationsTotal,
		m.GuardDecisionsTotal,
	)
	return m
}

// ObserveSession counts one login, refresh or logout outcome.
func (m *Metrics) ObserveSession(op, outcome string) {
	m.SessionOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveGuard counts one guard decision ("authenticated" or "rejected").
func (m *Metrics) ObserveGuard(outcome string) {
	m.GuardDecisionsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments HTTP requests. Paths are labelled by their chi
// route pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
