package metrics

type (
	nopCounter struct{}
	nopGauge   struct{}
	nopTimer   struct{}
)

func (nopCounter) Inc()        {}
func (nopCounter) Add(float64) {}

func (nopGauge) Set(float64) {}
func (nopGauge) Inc()        {}
func (nopGauge) Dec()        {}

func (nopTimer) ObserveDuration() {}

func NopCounter() Counter { return nopCounter{} }
func NopGauge() Gauge     { return nopGauge{} }
func NopTimer() Timer     { return nopTimer{} }
