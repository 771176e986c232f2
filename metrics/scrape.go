package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScrapeRegistry implements Registry on a private prometheus.Registry that
// the scheduler serves on /metrics.
type ScrapeRegistry struct {
	prom   *prometheus.Registry
	prefix string
}

// ScrapeOption configures a ScrapeRegistry.
type ScrapeOption func(*ScrapeRegistry)

// WithPrefix names every metric "<prefix>_<name>", matching what the push
// registry sends for the same monitoring.metrics_prefix.
func WithPrefix(prefix string) ScrapeOption {
	return func(r *ScrapeRegistry) {
		r.prefix = prefix
	}
}

// NewScrapeRegistry creates a ScrapeRegistry with the Go runtime and process
// collectors already registered.
func NewScrapeRegistry(opts ...ScrapeOption) (*ScrapeRegistry, error) {
	r := &ScrapeRegistry{prom: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(r)
	}

	for name, c := range map[string]prometheus.Collector{
		"go":      collectors.NewGoCollector(),
		"process": collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := r.prom.Register(c); err != nil {
			return nil, fmt.Errorf("registering %s collector: %w", name, err)
		}
	}
	return r, nil
}

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (r *ScrapeRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (r *ScrapeRegistry) namespace(ns string) string {
	if ns == "" {
		return r.prefix
	}
	return ns
}

func register[C prometheus.Collector](r *ScrapeRegistry, kind, name string, c C) (C, error) {
	if err := r.prom.Register(c); err != nil {
		var zero C
		return zero, fmt.Errorf("registering %s %q: %w", kind, name, err)
	}
	return c, nil
}

func (r *ScrapeRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	opts.Namespace = r.namespace(opts.Namespace)
	return register(r, "gauge", opts.Name, prometheus.NewGauge(opts))
}

func (r *ScrapeRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	opts.Namespace = r.namespace(opts.Namespace)
	v, err := register(r, "gauge vec", opts.Name, prometheus.NewGaugeVec(opts, labels))
	if err != nil {
		return nil, err
	}
	return scrapeGaugeVec{v}, nil
}

func (r *ScrapeRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	opts.Namespace = r.namespace(opts.Namespace)
	return register(r, "counter", opts.Name, prometheus.NewCounter(opts))
}

func (r *ScrapeRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	opts.Namespace = r.namespace(opts.Namespace)
	v, err := register(r, "counter vec", opts.Name, prometheus.NewCounterVec(opts, labels))
	if err != nil {
		return nil, err
	}
	return scrapeCounterVec{v}, nil
}

func (r *ScrapeRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error) {
	opts.Namespace = r.namespace(opts.Namespace)
	v, err := register(r, "histogram vec", opts.Name, prometheus.NewHistogramVec(opts, labels))
	if err != nil {
		return nil, err
	}
	return scrapeHistogramVec{v}, nil
}

// The vec wrappers narrow With to the package interfaces. prometheus.Gauge
// and prometheus.Counter already satisfy Gauge and Counter.
type (
	scrapeGaugeVec     struct{ *prometheus.GaugeVec }
	scrapeCounterVec   struct{ *prometheus.CounterVec }
	scrapeHistogramVec struct{ *prometheus.HistogramVec }
)

func (v scrapeGaugeVec) With(labels prometheus.Labels) Gauge {
	return v.GaugeVec.With(labels)
}

func (v scrapeCounterVec) With(labels prometheus.Labels) Counter {
	return v.CounterVec.With(labels)
}

func (v scrapeHistogramVec) With(labels prometheus.Labels) Observer {
	return v.HistogramVec.With(labels)
}
