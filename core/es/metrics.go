package es

import "github.com/codewandler/estodo/core/metrics"

// ESMetrics defines the metrics interface for the event sourcing core.
// Implementations should be thread-safe.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)

	// Cache
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Bus
	Subscriptions() metrics.Gauge
	BusPublishDuration() metrics.Timer
	EventsPublished(aggType string, count int)
	HandlerFailed(subscription string)
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConcurrencyConflict(string)            {}

func (nopESMetrics) CacheHit(string)  {}
func (nopESMetrics) CacheMiss(string) {}

func (nopESMetrics) Subscriptions() metrics.Gauge      { return metrics.NopGauge() }
func (nopESMetrics) BusPublishDuration() metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsPublished(string, int)       {}
func (nopESMetrics) HandlerFailed(string)              {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
