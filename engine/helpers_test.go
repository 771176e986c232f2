package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/posrunner/driver"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/scenario"
)

const (
	testLaunchPath = `C:\POS\pos.exe`
	testTitle      = "^Retail POS$"
)

type fakeApp struct{ id string }

func (a *fakeApp) ID() string { return a.id }

type fakeControl struct{ sel driver.Selector }

func (c *fakeControl) Selector() driver.Selector { return c.sel }

// mockAdapter is a testify mock of driver.Adapter.
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) LaunchOrAttach(ctx context.Context, locator, expectedTitle string, timeout time.Duration) (driver.Application, error) {
	args := m.Called(ctx, locator, expectedTitle, timeout)
	app, _ := args.Get(0).(driver.Application)
	return app, args.Error(1)
}

func (m *mockAdapter) FindControl(ctx context.Context, app driver.Application, sel driver.Selector, timeout time.Duration) (driver.Control, bool, error) {
	args := m.Called(ctx, app, sel, timeout)
	c, _ := args.Get(0).(driver.Control)
	return c, args.Bool(1), args.Error(2)
}

func (m *mockAdapter) SetText(ctx context.Context, c driver.Control, value string) error {
	return m.Called(ctx, c, value).Error(0)
}

func (m *mockAdapter) Click(ctx context.Context, c driver.Control) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockAdapter) Text(ctx context.Context, c driver.Control) (string, error) {
	args := m.Called(ctx, c)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) WaitFor(ctx context.Context, cond driver.Condition, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, cond, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *mockAdapter) CaptureSnapshot(ctx context.Context, app driver.Application) ([]byte, error) {
	args := m.Called(ctx, app)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockAdapter) Close(ctx context.Context, app driver.Application) error {
	return m.Called(ctx, app).Error(0)
}

// selectorFor matches FindControl calls for a step table key.
func selectorFor(key string) any {
	return DefaultSelectors()[key]
}

// anyInterstitial matches the recovery probes.
func anyInterstitial() any {
	return mock.MatchedBy(func(sel driver.Selector) bool {
		for _, in := range DefaultInterstitials() {
			if sel == in.Detector {
				return true
			}
		}
		return false
	})
}

// newHappyAdapter returns a mock that resolves every control and displays
// total. setup runs first so its expectations take precedence over the
// catch-all ones registered afterwards.
func newHappyAdapter(total string, setup ...func(m *mockAdapter, app *fakeApp, ctrl *fakeControl)) (*mockAdapter, *fakeApp) {
	m := &mockAdapter{}
	app := &fakeApp{id: "pos-1"}
	ctrl := &fakeControl{}
	for _, fn := range setup {
		fn(m, app, ctrl)
	}
	m.On("LaunchOrAttach", mock.Anything, testLaunchPath, testTitle, mock.Anything).Return(app, nil)
	m.On("FindControl", mock.Anything, app, mock.Anything, mock.Anything).Return(ctrl, true, nil)
	m.On("WaitFor", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	m.On("SetText", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.On("Click", mock.Anything, mock.Anything).Return(nil)
	m.On("Text", mock.Anything, mock.Anything).Return(total, nil)
	m.On("CaptureSnapshot", mock.Anything, app).Return([]byte("png"), nil)
	m.On("Close", mock.Anything, app).Return(nil)
	return m, app
}

// fakeSource is an in-memory ScenarioSource.
type fakeSource struct {
	rows     map[string]scenario.ScenarioRow
	settings scenario.Settings
	err      error
}

func (s *fakeSource) GetScenario(name string) (scenario.ScenarioRow, error) {
	row, ok := s.rows[name]
	if !ok {
		return scenario.ScenarioRow{}, fmt.Errorf("%w: %s", scenario.ErrNotFound, name)
	}
	return row.Clone(), nil
}

func (s *fakeSource) LoadSettings() (scenario.Settings, error) {
	return s.settings, s.err
}

func testSettings() scenario.Settings {
	return scenario.NewSettings(map[string]string{
		scenario.SettingLaunchPath:     testLaunchPath,
		scenario.SettingStartupWait:    "0",
		scenario.SettingAppTitle:       "Retail POS",
		scenario.SettingDefaultTimeout: "1",
	})
}

func dec(t *testing.T, s string) apd.Decimal {
	t.Helper()
	d, err := scenario.ParseAmount(s)
	require.NoError(t, err)
	return d
}

func item(t *testing.T, code, price string, qty int64) scenario.LineItem {
	t.Helper()
	return scenario.LineItem{Code: code, UnitPrice: dec(t, price), Quantity: qty}
}

// basicCashSale is the canonical single-item cash scenario.
func basicCashSale(t *testing.T) scenario.ScenarioRow {
	t.Helper()
	return scenario.ScenarioRow{
		Name:         "basic_cash_sale",
		Credentials:  scenario.Credentials{User: "cashier1", Password: "1234"},
		Items:        []scenario.LineItem{item(t, "5000112637922", "5.99", 1)},
		TenderAmount: dec(t, "50.00"),
	}
}

func newSource(rows ...scenario.ScenarioRow) *fakeSource {
	src := &fakeSource{rows: make(map[string]scenario.ScenarioRow), settings: testSettings()}
	for _, r := range rows {
		src.rows[r.Name] = r
	}
	return src
}

// memEvidence records saved snapshots.
type memEvidence struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (m *memEvidence) Save(ctx context.Context, runID, step string, png []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	ref := runID + "/" + step + ".png"
	m.saved[ref] = png
	return ref, nil
}

// recordingObserver collects finished runs.
type recordingObserver struct {
	mu   sync.Mutex
	runs []*RunContext
}

func (o *recordingObserver) RunFinished(ctx context.Context, rc *RunContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, rc)
}

func newTestEngine(t *testing.T, adapter driver.Adapter, src ScenarioSource, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.Discard()),
		WithInterstitialTimeout(10 * time.Millisecond),
	}, opts...)
	e, err := New(adapter, src, opts...)
	require.NoError(t, err)
	return e
}
