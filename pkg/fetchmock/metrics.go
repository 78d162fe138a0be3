package fetchmock

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures Prometheus metrics collection for a mocker.
type MetricsConfig struct {
	Namespace       string
	Subsystem       string
	Registry        prometheus.Registerer
	DurationBuckets []float64 // Seconds
}

// DefaultMetricsConfig returns sensible defaults for metrics collection.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:       "",
		Subsystem:       "fetch_mock",
		Registry:        prometheus.DefaultRegisterer,
		DurationBuckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}
}

// MetricsCollector records pipeline activity: fetches, route matches and
// misses, and preflight probes with their cache hits.
type MetricsCollector struct {
	config MetricsConfig

	fetchesTotal       *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
	routeMatchesTotal  *prometheus.CounterVec
	routeMissesTotal   prometheus.Counter
	preflightsTotal    prometheus.Counter
	preflightCacheHits prometheus.Counter
}

// NewMetricsCollector creates a metrics collector and registers its metrics.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.DurationBuckets) == 0 {
		config.DurationBuckets = DefaultMetricsConfig().DurationBuckets
	}

	factory := promauto.With(config.Registry)
	collector := &MetricsCollector{config: config}

	collector.fetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "fetches_total",
			Help:      "Total number of fetch calls by method, status code and outcome",
		},
		[]string{"method", "status_code", "outcome"},
	)

	collector.fetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "fetch_duration_seconds",
			Help:      "Fetch pipeline latency distribution",
			Buckets:   config.DurationBuckets,
		},
		[]string{"method"},
	)

	collector.routeMatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "route_matches_total",
			Help:      "Total number of route matches by server base URL",
		},
		[]string{"server"},
	)

	collector.routeMissesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "route_misses_total",
			Help:      "Total number of dispatches that matched no route",
		},
	)

	collector.preflightsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "preflight_requests_total",
			Help:      "Total number of preflight OPTIONS probes dispatched",
		},
	)

	collector.preflightCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "preflight_cache_hits_total",
			Help:      "Total number of preflight lookups served from the cache",
		},
	)

	return collector, nil
}

// observeFetch records one completed fetch call.
func (c *MetricsCollector) observeFetch(method string, statusCode int, duration time.Duration, ok bool) {
	if c == nil {
		return
	}

	outcome := "error"
	if ok {
		outcome = "success"
	}
	c.fetchesTotal.WithLabelValues(method, strconv.Itoa(statusCode), outcome).Inc()
	c.fetchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// observeMatch records a route match on the given server.
func (c *MetricsCollector) observeMatch(server string) {
	if c == nil {
		return
	}
	c.routeMatchesTotal.WithLabelValues(server).Inc()
}

// observeMiss records a dispatch that matched no route on any server.
func (c *MetricsCollector) observeMiss() {
	if c == nil {
		return
	}
	c.routeMissesTotal.Inc()
}

// observePreflight records a preflight lookup, cached or probed.
func (c *MetricsCollector) observePreflight(cached bool) {
	if c == nil {
		return
	}
	if cached {
		c.preflightCacheHits.Inc()
		return
	}
	c.preflightsTotal.Inc()
}
