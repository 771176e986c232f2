package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/scenario"
)

const failedRunID = "3f2b8c1e-5d4a-4b7e-9c1d-2a6f0e8b7d11"

var start = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func mismatchRunContext() *engine.RunContext {
	reason := "expected total 5.99, observed 6.99 (tolerance 0.01)"
	return &engine.RunContext{
		ID:         failedRunID,
		Scenario:   scenario.ScenarioRow{Name: "basic_cash_sale", Currency: "USD"},
		Settings:   scenario.NewSettings(map[string]string{scenario.SettingReportTitle: "Store 12 Nightly"}),
		StartedAt:  start,
		FinishedAt: start.Add(2500 * time.Millisecond),
		Steps: []engine.StepResult{
			{Step: "Attaching", Outcome: engine.OutcomeOK, Elapsed: 800 * time.Millisecond},
			{
				Step:      "LoggingIn",
				Outcome:   engine.OutcomeRetriedOK,
				Elapsed:   600 * time.Millisecond,
				Recovered: []string{"idle_screen"},
				Logs: []logging.LogEntry{{
					Time:       start.Add(900 * time.Millisecond),
					Level:      "INFO",
					Message:    "dismissed interstitial",
					Attributes: map[string]any{"interstitial": "idle_screen"},
				}},
			},
			{Step: "AddingItems", Outcome: engine.OutcomeOK, Elapsed: 300 * time.Millisecond},
			{Step: "ApplyingPromotion", Outcome: engine.OutcomeSkipped},
			{Step: "ApplyingLoyalty", Outcome: engine.OutcomeSkipped},
			{Step: "Tendering", Outcome: engine.OutcomeOK, Elapsed: 400 * time.Millisecond},
			{
				Step:     "Verifying",
				Outcome:  engine.OutcomeFailed,
				Elapsed:  400 * time.Millisecond,
				Evidence: failedRunID + "/Verifying.png",
				Error:    reason,
			},
		},
		Verdict: engine.Verdict{
			Status:   engine.StatusFailed,
			Step:     "Verifying",
			Kind:     engine.KindVerificationMismatch,
			Reason:   reason,
			Expected: "5.99",
			Observed: "6.99",
		},
	}
}

func encode(t *testing.T, format Format, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, format, v))
	return buf.Bytes()
}

func TestFromRunContext_Golden(t *testing.T) {
	run := FromRunContext(mismatchRunContext())
	newGoldie(t).Assert(t, "run_failed", encode(t, FormatJSON, run))
}

func TestFromRunContext_Completed(t *testing.T) {
	rc := &engine.RunContext{
		ID:         "run-2",
		Scenario:   scenario.ScenarioRow{Name: "promo_sale", Currency: "EUR"},
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Steps:      []engine.StepResult{{Step: "Attaching", Outcome: engine.OutcomeOK}},
		Verdict:    engine.Verdict{Status: engine.StatusCompleted, Expected: "7.99", Observed: "7.99"},
	}
	run := FromRunContext(rc)

	assert.True(t, run.Passed())
	assert.Equal(t, "POS Automation Test Report", run.Title)
	assert.Empty(t, run.Kind)
	assert.Empty(t, run.FailedStep)
	assert.Nil(t, run.Evidence)
	assert.Equal(t, int64(3000), run.ElapsedMS)
	assert.Equal(t, "7.99", run.Observed)
}

func TestBatch_Golden(t *testing.T) {
	b := NewBatch("b-1", "Store 12 Nightly", start)
	b.AddRun(FromRunContext(mismatchRunContext()))
	b.AddRun(&Run{ID: "run-2", Scenario: "promo_sale", Status: StatusCompleted, ElapsedMS: 3100})
	b.AddError("broken_row", &engine.Error{Kind: engine.KindConfiguration, Err: errors.New("row broken_row: tender_amount is required")})
	b.Finish(start.Add(10 * time.Second))

	newGoldie(t).Assert(t, "batch_mixed", encode(t, FormatJSON, b))
}

func TestBatch_ExitCode(t *testing.T) {
	passed := &Run{Scenario: "a", Status: StatusCompleted}
	failed := &Run{Scenario: "b", Status: StatusFailed, Kind: "NotFound"}

	tests := []struct {
		name string
		fill func(*Batch)
		want int
	}{
		{name: "empty", fill: func(b *Batch) {}, want: ExitPassed},
		{name: "all passed", fill: func(b *Batch) { b.AddRun(passed); b.AddRun(passed) }, want: ExitPassed},
		{name: "one failed", fill: func(b *Batch) { b.AddRun(passed); b.AddRun(failed) }, want: ExitFailed},
		{
			name: "config error wins",
			fill: func(b *Batch) {
				b.AddRun(failed)
				b.AddError("c", errors.New("settings missing"))
			},
			want: ExitConfigError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatch("id", "title", start)
			tt.fill(b)
			assert.Equal(t, tt.want, b.ExitCode())
			assert.Equal(t, b.Total, b.Passed+b.Failed+b.Errors)
		})
	}
}

func TestBatch_AddErrorUnclassified(t *testing.T) {
	b := NewBatch("id", "title", start)
	b.AddError("x", errors.New("boom"))
	require.Len(t, b.Results, 1)
	assert.Equal(t, "ConfigurationError", b.Results[0].Kind)
	assert.Equal(t, StatusError, b.Results[0].Status)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatJSON},
		{in: "json", want: FormatJSON},
		{in: "YAML", want: FormatYAML},
		{in: "yml", want: FormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestEncode_YAML(t *testing.T) {
	run := FromRunContext(mismatchRunContext())
	data := encode(t, FormatYAML, run)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "VerificationMismatch", decoded["kind"])
	assert.Equal(t, "6.99", decoded["observed_total"])
	assert.Equal(t, 2500, decoded["elapsed_ms"])
	steps, ok := decoded["steps"].([]any)
	require.True(t, ok)
	assert.Len(t, steps, 7)
}

func TestWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewWriter(dir, FormatJSON, WithLogger(logging.Discard()))

	run := FromRunContext(mismatchRunContext())
	path, err := w.WriteRun(run)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-01T09-30-00_basic_cash_sale_3f2b8c1e.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, encode(t, FormatJSON, run), data)

	b := NewBatch("abcdef0123456789", "t", start)
	bpath, err := w.WriteBatch(b)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch_2026-03-01T09-30-00_abcdef01.json"), bpath)
}

func TestWriter_YAMLAndUnsafeNames(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatYAML, WithLogger(logging.Discard()))

	path, err := w.WriteRun(&Run{ID: "r1", Scenario: "odd/name with spaces", StartedAt: start})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-01T09-30-00_odd_name_with_spaces_r1.yaml"), path)
}

func TestWriter_Report(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatJSON, WithLogger(logging.Discard()))
	require.NoError(t, w.Report(context.Background(), &Run{ID: "r1", Scenario: "s", StartedAt: start}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
