package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "concierge"

// Cache lookup outcomes
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Provider fetch outcomes
const (
	FetchSuccess = "success"
	FetchError   = "error"
	FetchTimeout = "timeout"
)

// Usage metering outcomes
const (
	UsageConsumed = "consumed"
	UsageExceeded = "exceeded"
)

// Metrics holds the prometheus collectors for access decisions and the
// entitlement resolver. Each instance owns its registry so tests can build
// as many as they need. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	AccessDecisions      *prometheus.CounterVec
	EntitlementFetches   *prometheus.CounterVec
	EntitlementCache     *prometheus.CounterVec
	EntitlementFetchTime prometheus.Histogram
	HTTPRequestsTotal    *prometheus.CounterVec
	UsageTotal           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AccessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Access guard decisions by capability and outcome",
		}, []string{"capability", "allowed", "reason"}),
		EntitlementFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_fetches_total",
			Help:      "Billing provider fetches by result",
		}, []string{"result"}),
		EntitlementCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_cache_total",
			Help:      "Entitlement cache lookups by result",
		}, []string{"result"}),
		EntitlementFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entitlement_fetch_duration_seconds",
			Help:      "Duration of billing provider fetches including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"method", "route", "status_code"}),
		UsageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_total",
			Help:      "Metered usage requests by type and result",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(
		m.AccessDecisions,
		m.EntitlementFetches,
		m.EntitlementCache,
		m.EntitlementFetchTime,
		m.HTTPRequestsTotal,
		m.UsageTotal,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision counts one guard decision
func (m *Metrics) RecordDecision(capability string, allowed bool, reason string) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(capability, strconv.FormatBool(allowed), reason).Inc()
}

// RecordCache counts one cache lookup
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.EntitlementCache.WithLabelValues(result).Inc()
}

// RecordFetch counts one provider fetch and observes its duration
func (m *Metrics) RecordFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.EntitlementFetches.WithLabelValues(result).Inc()
	m.EntitlementFetchTime.Observe(d.Seconds())
}

// RecordRequest counts one HTTP request
func (m *Metrics) RecordRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordUsage counts one metered usage request
func (m *Metrics) RecordUsage(usageType, result string) {
	if m == nil {
		return
	}
	m.UsageTotal.WithLabelValues(usageType, result).Inc()
}
