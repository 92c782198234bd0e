// Package prometheus implements the estodo metrics interfaces on top of
// prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/estodo/core/metrics"
)

const namespace = "estodo"

// timer wraps a Prometheus observer to implement metrics.Timer.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
