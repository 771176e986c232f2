package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second
)

// PushRegistry implements Registry for push-based metrics collection.
// Every update is written to a Prometheus remote write endpoint as it happens,
// which suits short-lived CLI runs that are never scraped.
type PushRegistry struct {
	pusher *pusher
}

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:9090").
	URL string
	// Prefix is the metric name prefix. All metric names will be prefixed with this value
	// followed by an underscore.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Logger receives push failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewPushRegistry creates a new PushRegistry that pushes metrics to the given URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &pusher{
		url:        strings.TrimRight(cfg.URL, "/") + "/api/v1/write",
		httpClient: &http.Client{Timeout: timeout},
		prefix:     cfg.Prefix,
		job:        cfg.Job,
		instance:   cfg.Instance,
		timeout:    timeout,
		logger:     logger.With("component", "metrics_push"),
	}
	return &PushRegistry{pusher: p}
}

// NewGauge creates a new push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushGauge{pusher: r.pusher, name: opts.Name}, nil
}

// NewGaugeVec creates a new push-based GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return &pushGaugeVec{pusher: r.pusher, name: opts.Name, labels: labels}, nil
}

// NewCounter creates a new push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushCounter{pusher: r.pusher, name: opts.Name}, nil
}

// NewCounterVec creates a new push-based CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return &pushCounterVec{pusher: r.pusher, name: opts.Name, labels: labels}, nil
}

// NewHistogramVec creates a new push-based HistogramVec. Observations are
// pushed as cumulative <name>_sum and <name>_count series.
func (r *PushRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error) {
	return &pushHistogramVec{pusher: r.pusher, name: opts.Name, labels: labels}, nil
}

// sample is one value to push.
type sample struct {
	name   string
	value  float64
	labels map[string]string
}

// pusher handles remote write.
type pusher struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string
	timeout    time.Duration
	logger     *slog.Logger
}

// send pushes samples and logs failures. Updates never fail the caller.
func (p *pusher) send(samples ...sample) {
	if err := p.push(samples...); err != nil {
		p.logger.Warn("failed to push metrics", "metric", samples[0].name, "error", err)
	}
}

// push sends samples to the remote write endpoint in one request.
func (p *pusher) push(samples ...sample) error {
	now := time.Now()
	timeseries := make([]prompb.TimeSeries, 0, len(samples))
	for _, s := range samples {
		timeseries = append(timeseries, p.metricToTimeSeries(s, now))
	}

	data, err := proto.Marshal(&prompb.WriteRequest{Timeseries: timeseries})
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// metricToTimeSeries converts a sample to Prometheus TimeSeries format.
// Labels are sorted by name as remote write requires.
func (p *pusher) metricToTimeSeries(s sample, at time.Time) prompb.TimeSeries {
	name := s.name
	if p.prefix != "" {
		name = p.prefix + "_" + name
	}

	promLabels := make([]prompb.Label, 0, len(s.labels)+3)
	promLabels = append(promLabels, prompb.Label{Name: "__name__", Value: name})
	if p.job != "" {
		promLabels = append(promLabels, prompb.Label{Name: "job", Value: p.job})
	}
	if p.instance != "" {
		promLabels = append(promLabels, prompb.Label{Name: "instance", Value: p.instance})
	}
	for k, v := range s.labels {
		promLabels = append(promLabels, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(promLabels, func(i, j int) bool { return promLabels[i].Name < promLabels[j].Name })

	return prompb.TimeSeries{
		Labels:  promLabels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: at.UnixMilli()}},
	}
}

// pushGauge implements Gauge for push mode.
type pushGauge struct {
	pusher *pusher
	name   string
	labels map[string]string
}

func (g *pushGauge) Set(v float64) {
	g.pusher.send(sample{name: g.name, value: v, labels: g.labels})
}

// pushGaugeVec implements GaugeVec for push mode.
type pushGaugeVec struct {
	pusher *pusher
	name   string
	labels []string
}

func (g *pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return &pushGauge{pusher: g.pusher, name: g.name, labels: labels}
}

// pushCounter implements Counter for push mode. The running total is pushed on every update.
type pushCounter struct {
	mu     sync.Mutex
	pusher *pusher
	name   string
	labels map[string]string
	value  float64
}

func (c *pushCounter) Inc() {
	c.Add(1)
}

func (c *pushCounter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	value := c.value
	c.mu.Unlock()
	c.pusher.send(sample{name: c.name, value: value, labels: c.labels})
}

// pushCounterVec implements CounterVec for push mode.
type pushCounterVec struct {
	mu       sync.Mutex
	pusher   *pusher
	name     string
	labels   []string
	counters map[string]*pushCounter
}

func (c *pushCounterVec) With(labels prometheus.Labels) Counter {
	key := labelsToKey(labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counters == nil {
		c.counters = make(map[string]*pushCounter)
	}
	if counter, ok := c.counters[key]; ok {
		return counter
	}
	counter := &pushCounter{pusher: c.pusher, name: c.name, labels: labels}
	c.counters[key] = counter
	return counter
}

// pushHistogram implements Observer for push mode.
type pushHistogram struct {
	mu     sync.Mutex
	pusher *pusher
	name   string
	labels map[string]string
	sum    float64
	count  float64
}

func (h *pushHistogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.count++
	sum, count := h.sum, h.count
	h.mu.Unlock()
	h.pusher.send(
		sample{name: h.name + "_sum", value: sum, labels: h.labels},
		sample{name: h.name + "_count", value: count, labels: h.labels},
	)
}

// pushHistogramVec implements HistogramVec for push mode.
type pushHistogramVec struct {
	mu         sync.Mutex
	pusher     *pusher
	name       string
	labels     []string
	histograms map[string]*pushHistogram
}

func (h *pushHistogramVec) With(labels prometheus.Labels) Observer {
	key := labelsToKey(labels)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.histograms == nil {
		h.histograms = make(map[string]*pushHistogram)
	}
	if hist, ok := h.histograms[key]; ok {
		return hist
	}
	hist := &pushHistogram{pusher: h.pusher, name: h.name, labels: labels}
	h.histograms[key] = hist
	return hist
}

// labelsToKey creates a stable string key from labels for map lookup.
func labelsToKey(labels prometheus.Labels) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
