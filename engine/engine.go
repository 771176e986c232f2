package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/nomis52/posrunner/driver"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/metrics"
	"github.com/nomis52/posrunner/scenario"
)

// DefaultInterstitialTimeout bounds each interstitial probe during recovery.
const DefaultInterstitialTimeout = 500 * time.Millisecond

// ScenarioSource resolves scenarios and settings. *scenario.Store implements it.
type ScenarioSource interface {
	GetScenario(name string) (scenario.ScenarioRow, error)
	LoadSettings() (scenario.Settings, error)
}

// EvidenceStore persists a failure snapshot and returns a reference to it.
type EvidenceStore interface {
	Save(ctx context.Context, runID, step string, png []byte) (string, error)
}

// Observer is told about every run that reached a terminal state.
type Observer interface {
	RunFinished(ctx context.Context, rc *RunContext)
}

// Engine executes scenarios against a single application instance.
// Runs on one Engine are mutually exclusive; use one Engine per instance to
// run scenarios in parallel.
type Engine struct {
	adapter driver.Adapter
	source  ScenarioSource
	logger  *slog.Logger

	recorder            *metrics.RunRecorder
	selectors           Selectors
	interstitials       []Interstitial
	interstitialTimeout time.Duration
	stepTimeouts        map[State]time.Duration
	timeoutOverride     time.Duration
	evidence            EvidenceStore
	evidenceOverride    *bool
	observers           []Observer
	captureLogs         bool
	now                 func() time.Time

	active atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With("component", "engine")
	}
}

// WithRecorder records step and recovery metrics.
func WithRecorder(r *metrics.RunRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithSelectors replaces the selector table.
func WithSelectors(s Selectors) Option {
	return func(e *Engine) {
		e.selectors = s
	}
}

// WithInterstitials replaces the set of interstitials tried during recovery.
func WithInterstitials(set []Interstitial) Option {
	return func(e *Engine) {
		e.interstitials = append([]Interstitial(nil), set...)
	}
}

// WithInterstitialTimeout bounds each interstitial probe.
func WithInterstitialTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.interstitialTimeout = d
	}
}

// WithStepTimeouts sets per-step control resolution timeouts.
func WithStepTimeouts(timeouts map[State]time.Duration) Option {
	return func(e *Engine) {
		for s, d := range timeouts {
			e.stepTimeouts[s] = d
		}
	}
}

// WithTimeoutOverride replaces the DEFAULT_TIMEOUT setting. Per-step timeouts still apply.
func WithTimeoutOverride(d time.Duration) Option {
	return func(e *Engine) {
		e.timeoutOverride = d
	}
}

// WithEvidence stores failure snapshots in store.
func WithEvidence(store EvidenceStore) Option {
	return func(e *Engine) {
		e.evidence = store
	}
}

// WithEvidenceEnabled overrides the SCREENSHOT_ON_FAILURE setting.
func WithEvidenceEnabled(enabled bool) Option {
	return func(e *Engine) {
		e.evidenceOverride = &enabled
	}
}

// WithObserver adds an observer of finished runs.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithStepLogs controls whether each step's log lines are attached to its result.
func WithStepLogs(enabled bool) Option {
	return func(e *Engine) {
		e.captureLogs = enabled
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine that owns adapter.
func New(adapter driver.Adapter, source ScenarioSource, opts ...Option) (*Engine, error) {
	e := &Engine{
		adapter:             adapter,
		source:              source,
		logger:              slog.Default().With("component", "engine"),
		selectors:           DefaultSelectors(),
		interstitials:       DefaultInterstitials(),
		interstitialTimeout: DefaultInterstitialTimeout,
		stepTimeouts:        make(map[State]time.Duration),
		captureLogs:         true,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.selectors.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selectors: %w", err)
	}
	for i, in := range e.interstitials {
		if in.Name == "" || in.Detector.IsZero() {
			return nil, fmt.Errorf("interstitial %d: name and detector are required", i)
		}
	}
	return e, nil
}

// plan is everything resolved from data and settings before the first
// adapter call.
type plan struct {
	row            scenario.ScenarioRow
	settings       scenario.Settings
	titlePattern   string
	attachTimeout  time.Duration
	defaultTimeout time.Duration
	expected       apd.Decimal
	tolerance      apd.Decimal
	evidence       bool
}

// Run executes the named scenario and returns its RunContext.
//
// A non-nil error is returned only for ErrRunInProgress and for
// configuration errors (*Error with KindConfiguration); in both cases the
// adapter was never called. Every other outcome, including UI and adapter
// failures, is reported through the returned RunContext's Verdict.
func (e *Engine) Run(ctx context.Context, name string) (*RunContext, error) {
	if !e.active.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.active.Store(false)

	p, err := e.prepare(name)
	if err != nil {
		e.logger.Warn("scenario not runnable", "scenario", name, "error", err)
		return nil, err
	}

	rc := &RunContext{
		ID:        uuid.NewString(),
		Scenario:  p.row,
		Settings:  p.settings,
		StartedAt: e.now(),
		Path:      []State{Idle},
		state:     Idle,
	}
	r := &run{
		engine: e,
		rc:     rc,
		plan:   p,
		logger: e.logger.With("run_id", rc.ID, "scenario", name),
		hook:   logging.PassthroughLoggerHook{},
	}
	if e.captureLogs {
		r.collector = logging.NewLogCollector()
		r.hook = logging.NewCapturingLoggerHook(r.collector)
	}

	r.logger.Info("run started", "items", len(p.row.Items), "expected_total", formatAmount(&p.expected))
	r.execute(ctx)

	// The handle is released on every exit path, including cancellation.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := rc.close(cleanupCtx, e.adapter); err != nil {
		r.logger.Warn("failed to close application", "error", err)
	}
	rc.FinishedAt = e.now()

	r.logger.Info("run finished",
		"status", rc.Verdict.Status,
		"step", rc.Verdict.Step,
		"kind", rc.Verdict.Kind.String(),
		"elapsed", rc.Elapsed())

	for _, o := range e.observers {
		o.RunFinished(cleanupCtx, rc)
	}
	return rc, nil
}

// Running reports whether a run currently owns the engine.
func (e *Engine) Running() bool {
	return e.active.Load()
}

func (e *Engine) prepare(name string) (*plan, error) {
	settings, err := e.source.LoadSettings()
	if err != nil {
		return nil, configError("loading settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, configError("invalid settings: %w", err)
	}
	row, err := e.source.GetScenario(name)
	if err != nil {
		return nil, configError("resolving scenario %q: %w", name, err)
	}
	if row.Currency == "" {
		row.Currency = settings.Currency()
	}

	p := &plan{row: row, settings: settings}

	// Settings.Validate has already checked that these parse.
	startup, _ := settings.StartupWait()
	p.defaultTimeout, _ = settings.DefaultTimeout()
	p.tolerance, _ = settings.TotalTolerance()
	screenshot, _ := settings.ScreenshotOnFailure()

	if e.timeoutOverride > 0 {
		p.defaultTimeout = e.timeoutOverride
	}
	p.attachTimeout = startup + p.defaultTimeout

	p.titlePattern = settings.TitleRegex()
	if p.titlePattern == "" {
		p.titlePattern = "^" + regexp.QuoteMeta(settings.AppTitle()) + "$"
	}
	if _, err := regexp.Compile(p.titlePattern); err != nil {
		return nil, configError("invalid %s: %w", scenario.SettingTitleRegex, err)
	}

	p.expected, err = ExpectedTotal(row)
	if err != nil {
		return nil, configError("scenario %q: %w", name, err)
	}

	p.evidence = screenshot
	if e.evidenceOverride != nil {
		p.evidence = *e.evidenceOverride
	}
	p.evidence = p.evidence && e.evidence != nil
	return p, nil
}

// timeout returns the control resolution timeout for state.
func (p *plan) timeout(e *Engine, state State) time.Duration {
	if d, ok := e.stepTimeouts[state]; ok && d > 0 {
		return d
	}
	return p.defaultTimeout
}
