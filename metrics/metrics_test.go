package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWriteServer returns a remote write endpoint that forwards decoded
// timeseries to the returned channel.
func newWriteServer(t *testing.T, buffer int) (*httptest.Server, chan []prompb.TimeSeries) {
	t.Helper()
	received := make(chan []prompb.TimeSeries, buffer)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "0.1.0", r.Header.Get("X-Prometheus-Remote-Write-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var writeReq prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &writeReq))

		received <- writeReq.Timeseries
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server, received
}

func receive(t *testing.T, ch chan []prompb.TimeSeries) []prompb.TimeSeries {
	t.Helper()
	select {
	case ts := <-ch:
		return ts
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for metrics to be received")
		return nil
	}
}

func findLabel(labels []prompb.Label, name string) string {
	for _, l := range labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestPushGauge_Set(t *testing.T) {
	server, received := newWriteServer(t, 1)

	registry := NewPushRegistry(PushConfig{
		URL:      server.URL + "/",
		Prefix:   "posrunner",
		Job:      "pos-tests",
		Instance: "lane-3",
	})
	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "batch_failed_scenarios"})
	require.NoError(t, err)
	gauge.Set(2)

	ts := receive(t, received)
	require.Len(t, ts, 1)
	assert.Equal(t, "posrunner_batch_failed_scenarios", findLabel(ts[0].Labels, "__name__"))
	assert.Equal(t, "pos-tests", findLabel(ts[0].Labels, "job"))
	assert.Equal(t, "lane-3", findLabel(ts[0].Labels, "instance"))
	require.Len(t, ts[0].Samples, 1)
	assert.Equal(t, 2.0, ts[0].Samples[0].Value)

	// Remote write requires sorted label names.
	for i := 1; i < len(ts[0].Labels); i++ {
		assert.Less(t, ts[0].Labels[i-1].Name, ts[0].Labels[i].Name)
	}
}

func TestPushCounterVec_Accumulates(t *testing.T) {
	server, received := newWriteServer(t, 2)

	registry := NewPushRegistry(PushConfig{URL: server.URL})
	vec, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "step_recoveries_total"}, []string{"step"})
	require.NoError(t, err)

	vec.With(prometheus.Labels{"step": "logging_in"}).Inc()
	vec.With(prometheus.Labels{"step": "logging_in"}).Inc()

	for i := 0; i < 2; i++ {
		ts := receive(t, received)
		require.Len(t, ts, 1)
		assert.Equal(t, "logging_in", findLabel(ts[0].Labels, "step"))
		assert.Equal(t, float64(i+1), ts[0].Samples[0].Value)
	}
}

func TestPushHistogramVec_Observe(t *testing.T) {
	server, received := newWriteServer(t, 2)

	registry := NewPushRegistry(PushConfig{URL: server.URL})
	vec, err := registry.NewHistogramVec(prometheus.HistogramOpts{Name: "step_duration_seconds"}, []string{"step"})
	require.NoError(t, err)

	vec.With(prometheus.Labels{"step": "tendering"}).Observe(1.5)
	receive(t, received)
	vec.With(prometheus.Labels{"step": "tendering"}).Observe(0.5)

	ts := receive(t, received)
	require.Len(t, ts, 2)
	values := map[string]float64{}
	for _, s := range ts {
		values[findLabel(s.Labels, "__name__")] = s.Samples[0].Value
	}
	assert.Equal(t, 2.0, values["step_duration_seconds_sum"])
	assert.Equal(t, 2.0, values["step_duration_seconds_count"])
}

func TestPushRegistry_FailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	registry := NewPushRegistry(PushConfig{URL: server.URL})
	assert.Error(t, registry.pusher.push(sample{name: "x", value: 1}))

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "x"})
	require.NoError(t, err)
	assert.NotPanics(t, func() { gauge.Set(1) })
}

func TestLabelsToKey_Stable(t *testing.T) {
	a := labelsToKey(prometheus.Labels{"scenario": "s", "status": "failed", "kind": "NotFound"})
	b := labelsToKey(prometheus.Labels{"kind": "NotFound", "status": "failed", "scenario": "s"})
	assert.Equal(t, a, b)
	assert.Equal(t, "kind=NotFound,scenario=s,status=failed,", a)
}

func TestScrapeRegistry(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	require.NoError(t, err)
	gauge.Set(42.0)

	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	require.NoError(t, err)
	counter.Inc()

	_, err = registry.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "duplicate"})
	assert.Error(t, err)

	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "test_gauge 42")
	assert.Contains(t, body, "test_counter 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestScrapeRegistry_Prefix(t *testing.T) {
	registry, err := NewScrapeRegistry(WithPrefix("posrunner"))
	require.NoError(t, err)
	rec, err := NewRunRecorder(registry)
	require.NoError(t, err)
	rec.BatchFinished(2)

	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "posrunner_batch_failed_scenarios 2")
}

func TestRunRecorder(t *testing.T) {
	registry, err := NewScrapeRegistry()
	require.NoError(t, err)
	rec, err := NewRunRecorder(registry)
	require.NoError(t, err)

	rec.StepFinished("logging_in", 1200*time.Millisecond)
	rec.Recovery("logging_in")
	rec.RunFinished("basic_cash_sale", "failed", "VerificationMismatch", time.Unix(1700000000, 0))
	rec.BatchFinished(1)

	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	assert.Contains(t, body, `scenario_runs_total{kind="VerificationMismatch",scenario="basic_cash_sale",status="failed"} 1`)
	assert.Contains(t, body, `step_recoveries_total{step="logging_in"} 1`)
	assert.Contains(t, body, `step_duration_seconds_count{step="logging_in"} 1`)
	assert.Contains(t, body, `scenario_last_run_timestamp_seconds{scenario="basic_cash_sale"} 1.7e+09`)
	assert.Contains(t, body, "batch_failed_scenarios 1")
}

func TestRunRecorder_Nil(t *testing.T) {
	var rec *RunRecorder
	assert.NotPanics(t, func() {
		rec.StepFinished("s", time.Second)
		rec.Recovery("s")
		rec.RunFinished("s", "completed", "", time.Now())
		rec.BatchFinished(0)
	})
}
