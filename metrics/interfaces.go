// Package metrics records scenario and batch metrics in Prometheus form.
//
// A Registry hides where the series end up:
//   - ScrapeRegistry registers them with a prometheus.Registry served on
//     /metrics by the scheduler
//   - PushRegistry sends them to a remote write endpoint, which suits
//     one-shot CLI runs that exit before anything could scrape them
//
// RunRecorder sits on top of a Registry and owns the posrunner series.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge holds a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter only increases. Add panics on negative values.
type Counter interface {
	Inc()
	Add(float64)
}

// Observer adds samples to a distribution.
type Observer interface {
	Observe(float64)
}

// GaugeVec, CounterVec and HistogramVec resolve a labelled child.
type (
	GaugeVec interface {
		With(prometheus.Labels) Gauge
	}
	CounterVec interface {
		With(prometheus.Labels) Counter
	}
	HistogramVec interface {
		With(prometheus.Labels) Observer
	}
)

// Registry creates metrics and registers them with the backing store.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
	NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error)
}
