package app

import "github.com/codewandler/estodo/core/metrics"

// Metrics instruments application commands.
type Metrics interface {
	CommandDuration(command string) metrics.Timer
	CommandCompleted(command string, success bool)
	CommandRetried(command string) metrics.Counter
}

type nopMetrics struct{}

func (nopMetrics) CommandDuration(string) metrics.Timer  { return metrics.NopTimer() }
func (nopMetrics) CommandCompleted(string, bool)         {}
func (nopMetrics) CommandRetried(string) metrics.Counter { return metrics.NopCounter() }
