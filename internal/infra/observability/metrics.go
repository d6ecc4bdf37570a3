package observability

import (
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	analyses        *prometheus.CounterVec
	collected       *prometheus.CounterVec
	accessDenied    *prometheus.CounterVec
	signups         *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it, so tests can build as many as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eap_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_analyses_total",
				Help: "Dashboard analyses by dashboard and outcome.",
			},
			[]string{"dashboard", "status"},
		),
		collected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_collected_files_total",
				Help: "Collector outcomes per file.",
			},
			[]string{"outcome"},
		),
		accessDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_access_denied_total",
				Help: "Denied access attempts by reason.",
			},
			[]string{"reason"},
		),
		signups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eap_customers_created_total",
				Help: "Customers created by source and product.",
			},
			[]string{"source", "product"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrAnalysis counts a dashboard run. status is "ok" or "error".
func (m *Metrics) IncrAnalysis(dashboard domain.Dashboard, status string) {
	m.analyses.WithLabelValues(string(dashboard), status).Inc()
}

// IncrCollected counts a collector outcome: stored, skipped, error.
func (m *Metrics) IncrCollected(outcome string) {
	m.collected.WithLabelValues(outcome).Inc()
}

// IncrAccessDenied counts a refused access attempt.
func (m *Metrics) IncrAccessDenied(reason string) {
	m.accessDenied.WithLabelValues(reason).Inc()
}

// IncrCustomerCreated counts a signup or purchase.
func (m *Metrics) IncrCustomerCreated(source string, product domain.Product) {
	m.signups.WithLabelValues(source, string(product)).Inc()
}

// GetUsageSnapshot returns cumulative counters for GET /v1/stats/usage.
func (m *Metrics) GetUsageSnapshot() *domain.UsageStats {
	byDashboard := make(map[string]float64, len(domain.AllDashboards))
	for _, d := range domain.AllDashboards {
		byDashboard[string(d)] = getCounterValue(m.analyses, string(d), "ok")
	}

	hits := getCounterValue(m.cacheHits, "customer") + getCounterValue(m.cacheHits, "parse")
	misses := getCounterValue(m.cacheMisses, "customer") + getCounterValue(m.cacheMisses, "parse")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	external := float64(0)
	for _, svc := range []string{"supabase", "postgres", "sqlite", "storage", "resend"} {
		external += getCounterValue(m.externalErrors, svc)
	}

	return &domain.UsageStats{
		AnalysesByDashboard: byDashboard,
		CollectedFiles:      getCounterValue(m.collected, "stored"),
		SkippedDuplicates:   getCounterValue(m.collected, "skipped"),
		CollectionErrors:    getCounterValue(m.collected, "error"),
		CacheHitRate:        cacheHitRateRound(hitRate),
		ExternalErrors:      external,
		Period:              "since_start",
	}
}

func cacheHitRateRound(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}

// getCounterValue extracts the current value of one labelled counter.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
