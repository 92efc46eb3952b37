package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// latencyBuckets are in milliseconds.
var latencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Manager owns the service's Prometheus collectors.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	dashboardDuration *prometheus.HistogramVec
	queryErrors       *prometheus.CounterVec
	lookupBatches     *prometheus.CounterVec

	sessionsSwept prometheus.Counter
	sweepRuns     *prometheus.CounterVec

	configReloads *prometheus.CounterVec
}

// Global metrics manager on its own registry, without the
// default Go collectors.
var (
	customRegistry = prometheus.NewRegistry()
	globalManager  = NewManager(WithPrometheusRegistry(customRegistry))
)

// NewManager creates a metrics manager. Without a registry
// option it registers on a fresh private registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "adminview",
		histogramBuckets: latencyBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.dashboardDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "dashboard_build_duration_milliseconds",
			Help:      "Time to fetch, join and aggregate one dashboard",
			Buckets:   m.histogramBuckets,
		},
		[]string{"dashboard"},
	)
	m.queryErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "query_errors_total",
			Help:      "Failed table reads, by table",
		},
		[]string{"source"},
	)
	m.lookupBatches = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "lookup_batches_total",
			Help:      "Batch foreign-key lookups issued, by table",
		},
		[]string{"table"},
	)

	m.sessionsSwept = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_swept_total",
		Help:      "Stale game sessions deleted by the sweep",
	})
	m.sweepRuns = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sweep_runs_total",
			Help:      "Sweep invocations by outcome",
		},
		[]string{"outcome"},
	)

	m.configReloads = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "config_reloads_total",
			Help:      "Config file reloads by outcome",
		},
		[]string{"outcome"},
	)
}

// RecordHTTPRequest records one served request.
func (m *Manager) RecordHTTPRequest(
	endpoint, method, statusCode string, durationMs float64,
) {
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).
		Observe(durationMs)
}

// RecordDashboardBuild records how long a dashboard took.
func (m *Manager) RecordDashboardBuild(dashboard string, durationMs float64) {
	m.dashboardDuration.WithLabelValues(dashboard).Observe(durationMs)
}

// RecordQueryError counts a failed read of source.
func (m *Manager) RecordQueryError(source string) {
	m.queryErrors.WithLabelValues(source).Inc()
}

// RecordLookupBatch counts one batch lookup against table.
func (m *Manager) RecordLookupBatch(table string) {
	m.lookupBatches.WithLabelValues(table).Inc()
}

// RecordSweep records a sweep outcome and how many sessions
// it deleted.
func (m *Manager) RecordSweep(outcome string, cleared int) {
	m.sweepRuns.WithLabelValues(outcome).Inc()
	if cleared > 0 {
		m.sessionsSwept.Add(float64(cleared))
	}
}

// RecordConfigReload records a config reload outcome.
func (m *Manager) RecordConfigReload(outcome string) {
	m.configReloads.WithLabelValues(outcome).Inc()
}

// Registry returns the registry the manager registers on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the manager's registry in the Prometheus
// exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Default returns the global manager.
func Default() *Manager { return globalManager }
