// Package metrics provides abstract metrics interfaces so the core packages
// can be instrumented without depending on a metrics backend.
package metrics

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
	// Add increments the counter by delta. delta must be >= 0.
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes:
//
//	defer m.StoreLoadDuration("todo_list").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
