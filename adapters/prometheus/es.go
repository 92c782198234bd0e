package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	subscriptions      prometheus.Gauge
	busPublishDuration prometheus.Histogram
	eventsPublished    *prometheus.CounterVec
	handlerFailures    *prometheus.CounterVec
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
		Buckets:   defaultBuckets,
	}, labels)
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
	}, labels)
}

// NewESMetrics creates a Prometheus implementation of es.ESMetrics and
// registers its collectors with reg.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration:   histogramVec("store_load_duration_seconds", "Event store load latency in seconds", "aggregate_type"),
		storeAppendDuration: histogramVec("store_append_duration_seconds", "Event store append latency in seconds", "aggregate_type"),
		eventsAppended:      counterVec("events_appended_total", "Total number of events appended", "aggregate_type"),

		repoLoadDuration:     histogramVec("repo_load_duration_seconds", "Repository load latency in seconds", "aggregate_type"),
		repoSaveDuration:     histogramVec("repo_save_duration_seconds", "Repository save latency in seconds", "aggregate_type"),
		concurrencyConflicts: counterVec("concurrency_conflicts_total", "Total number of optimistic concurrency conflicts", "aggregate_type"),

		cacheHits:   counterVec("cache_hits_total", "Total number of repository cache hits", "aggregate_type"),
		cacheMisses: counterVec("cache_misses_total", "Total number of repository cache misses", "aggregate_type"),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "es",
			Name:      "bus_subscriptions",
			Help:      "Number of active bus subscriptions",
		}),
		busPublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "es",
			Name:      "bus_publish_duration_seconds",
			Help:      "Synchronous bus dispatch latency in seconds",
			Buckets:   defaultBuckets,
		}),
		eventsPublished: counterVec("events_published_total", "Total number of events published on the bus", "aggregate_type"),
		handlerFailures: counterVec("handler_failures_total", "Total number of failed bus handler invocations", "subscription"),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.subscriptions,
		m.busPublishDuration,
		m.eventsPublished,
		m.handlerFailures,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string)  { m.cacheHits.WithLabelValues(aggType).Inc() }
func (m *esMetrics) CacheMiss(aggType string) { m.cacheMisses.WithLabelValues(aggType).Inc() }

func (m *esMetrics) Subscriptions() metrics.Gauge { return m.subscriptions }

func (m *esMetrics) BusPublishDuration() metrics.Timer { return newTimer(m.busPublishDuration) }

func (m *esMetrics) EventsPublished(aggType string, count int) {
	m.eventsPublished.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) HandlerFailed(subscription string) {
	m.handlerFailures.WithLabelValues(subscription).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
