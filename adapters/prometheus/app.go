package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/estodo/core/metrics"
)

// AppMetrics instruments the todo application commands.
type AppMetrics struct {
	commandDuration *prometheus.HistogramVec
	commands        *prometheus.CounterVec
	retries         *prometheus.CounterVec
}

func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "command_duration_seconds",
			Help:      "Command latency in seconds, retries included",
			Buckets:   defaultBuckets,
		}, []string{"command"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "commands_total",
			Help:      "Total number of executed commands",
		}, []string{"command", "success"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "command_retries_total",
			Help:      "Total number of command attempts retried after a concurrency conflict",
		}, []string{"command"}),
	}
	reg.MustRegister(m.commandDuration, m.commands, m.retries)
	return m
}

func (m *AppMetrics) CommandDuration(command string) metrics.Timer {
	return newTimer(m.commandDuration.WithLabelValues(command))
}

func (m *AppMetrics) CommandCompleted(command string, success bool) {
	m.commands.WithLabelValues(command, boolToStr(success)).Inc()
}

func (m *AppMetrics) CommandRetried(command string) metrics.Counter {
	return m.retries.WithLabelValues(command)
}
