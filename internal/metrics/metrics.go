// Package metrics exposes Prometheus collectors for HTTP traffic, analytics
// capture and uploads. Collectors live on an instance registry so tests and
// multiple servers in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpcenter"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	eventsRecorded *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	reportCache    *prometheus.CounterVec
	reportDuration prometheus.Histogram
	uploads        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		eventsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "events_recorded_total",
				Help:      "Analytics events stored, by kind",
			},
			[]string{"kind"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "events_dropped_total",
				Help:      "Analytics events that failed to store, by kind",
			},
			[]string{"kind"},
		),
		reportCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "report_cache_total",
				Help:      "Report cache lookups by result",
			},
			[]string{"result"},
		),
		reportDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "report_build_seconds",
				Help:      "Time spent fetching and aggregating an analytics report",
				Buckets:   prometheus.DefBuckets,
			},
		),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "uploads_total",
				Help:      "File uploads by storage driver and outcome",
			},
			[]string{"driver", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RequestStarted tracks an in-flight request and returns the function that completes it.
func (m *Metrics) RequestStarted() func(method, route string, status int) {
	if m == nil {
		return func(string, string, int) {}
	}
	started := time.Now()
	m.httpRequestsInFlight.Inc()
	return func(method, route string, status int) {
		m.httpRequestsInFlight.Dec()
		m.httpRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
	}
}

// EventRecorded counts a stored analytics event.
func (m *Metrics) EventRecorded(kind string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(kind).Inc()
}

// EventDropped counts an analytics event that could not be stored.
func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

// ReportCacheResult counts a cache lookup outcome: hit, miss or error.
func (m *Metrics) ReportCacheResult(result string) {
	if m == nil {
		return
	}
	m.reportCache.WithLabelValues(result).Inc()
}

// ReportBuilt observes how long a report took to build.
func (m *Metrics) ReportBuilt(duration time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(duration.Seconds())
}

// UploadFinished counts an upload outcome for a storage driver.
func (m *Metrics) UploadFinished(driver string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.uploads.WithLabelValues(driver, status).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
