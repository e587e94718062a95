// Package metrics exposes Prometheus counters for entitlement, billing and
// HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
)

const namespace = "aidash"

// Metrics implements entitlement.Observer and billing.Observer.
type Metrics struct {
	registry *prometheus.Registry

	gateDecisions   *prometheus.CounterVec
	usageRecorded   *prometheus.CounterVec
	reservations    *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	vendorCalls     *prometheus.CounterVec
	vendorDuration  *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpInFlight    prometheus.Gauge
}

// New registers all collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "gate_decisions_total",
			Help:      "Usage gate decisions by feature and result.",
		}, []string{"feature", "allowed", "plan"}),
		usageRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "usage_recorded_total",
			Help:      "Free-tier usage units recorded.",
		}, []string{"feature"}),
		reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "reservations_total",
			Help:      "Quota reservations by outcome.",
		}, []string{"feature", "outcome"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "store_errors_total",
			Help:      "Entitlement store failures by operation.",
		}, []string{"operation"}),
		webhookOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_outcomes_total",
			Help:      "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "subscription_transitions_total",
			Help:      "Committed subscription status transitions.",
		}, []string{"provider", "from", "to"}),
		vendorCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "vendor_calls_total",
			Help:      "AI vendor calls by tool and result.",
		}, []string{"tool", "result"}),
		vendorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "vendor_call_duration_seconds",
			Help:      "AI vendor call latency.",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"tool"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) GateDecision(feature entitlement.Feature, allowed, pro bool) {
	m.gateDecisions.WithLabelValues(string(feature), strconv.FormatBool(allowed), plan(pro)).Inc()
}

func (m *Metrics) UsageRecorded(feature entitlement.Feature) {
	m.usageRecorded.WithLabelValues(string(feature)).Inc()
}

func (m *Metrics) ReservationOutcome(feature entitlement.Feature, outcome string) {
	m.reservations.WithLabelValues(string(feature), outcome).Inc()
}

func (m *Metrics) StoreError(op entitlement.Operation) {
	m.storeErrors.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) WebhookOutcome(provider entitlement.Provider, outcome billing.Outcome) {
	m.webhookOutcomes.WithLabelValues(label(string(provider)), string(outcome)).Inc()
}

func (m *Metrics) SubscriptionTransition(provider entitlement.Provider, from, to entitlement.Status) {
	m.transitions.WithLabelValues(label(string(provider)), from.String(), to.String()).Inc()
}

// VendorCall records one AI vendor round trip.
func (m *Metrics) VendorCall(tool string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.vendorCalls.WithLabelValues(tool, result).Inc()
	m.vendorDuration.WithLabelValues(tool).Observe(took.Seconds())
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func plan(pro bool) string {
	if pro {
		return "pro"
	}
	return "free"
}

func label(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var (
	_ entitlement.Observer = (*Metrics)(nil)
	_ billing.Observer     = (*Metrics)(nil)
)
