package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal  *prometheus.CounterVec
	AuthzEvalDuration    prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CacheErrorsTotal     prometheus.Counter
	PolicyMutationsTotal *prometheus.CounterVec

	// Session metrics
	LoginsTotal        *prometheus.CounterVec
	RefreshesTotal     *prometheus.CounterVec
	ReplaysTotal       prometheus.Counter
	ActiveSessions     prometheus.Gauge
	SessionRevocations *prometheus.CounterVec

	// Password reset metrics
	ResetRequestsTotal *prometheus.CounterVec
	ResetRedeemsTotal  *prometheus.CounterVec

	// Event publisher metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"decision", "source"},
		),
		AuthzEvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_authz_eval_duration_seconds",
				Help:    "Policy engine evaluation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_decision_cache_hits_total",
				Help: "Total number of decision cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_decision_cache_misses_total",
				Help: "Total number of decision cache misses (including stale entries)",
			},
		),
		CacheErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_decision_cache_errors_total",
				Help: "Total number of decision cache backend errors (degraded to direct evaluation)",
			},
		),
		PolicyMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_policy_mutations_total",
				Help: "Total number of policy store mutations",
			},
			[]string{"operation"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logins_total",
				Help: "Total number of login attempts",
			},
			[]string{"status"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refreshes_total",
				Help: "Total number of refresh token redemptions",
			},
			[]string{"status"},
		),
		ReplaysTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_token_replays_total",
				Help: "Total number of detected refresh token replays",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_active_sessions",
				Help: "Current number of active sessions",
			},
		),
		SessionRevocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_session_revocations_total",
				Help: "Total number of session revocations",
			},
			[]string{"reason"},
		),
		ResetRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_password_reset_requests_total",
				Help: "Total number of password reset requests",
			},
			[]string{"outcome"},
		),
		ResetRedeemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_password_reset_redeems_total",
				Help: "Total number of password reset redemptions",
			},
			[]string{"status"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_events_published_total",
				Help: "Total number of published domain events",
			},
			[]string{"topic"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_events_dropped_total",
				Help: "Total number of domain events dropped due to a full publish buffer",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzEvalDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.PolicyMutationsTotal,
		m.LoginsTotal,
		m.RefreshesTotal,
		m.ReplaysTotal,
		m.ActiveSessions,
		m.SessionRevocations,
		m.ResetRequestsTotal,
		m.ResetRedeemsTotal,
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDecision records an authorization decision and where it came from
// (cache or engine).
func (m *Metrics) RecordDecision(allowed bool, source string) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(decision, source).Inc()
}
