package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nomis52/posrunner/driver"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/scenario"
)

type opKind int

const (
	opAttach opKind = iota
	opClick
	opType
	opVerify
)

// action is one adapter interaction within a step.
type action struct {
	op     opKind
	key    string
	value  string
	secret bool
}

// step is one row of the step table.
type step struct {
	state State
	// applies reports whether an optional step runs for the row; nil means always.
	applies func(scenario.ScenarioRow) bool
	actions func(scenario.ScenarioRow) []action
}

func click(key string) action { return action{op: opClick, key: key} }

func typeText(key, value string) action { return action{op: opType, key: key, value: value} }

// steps drives every scenario. Rows differ only in the data they feed in.
var steps = []step{
	{
		state:   Attaching,
		actions: func(scenario.ScenarioRow) []action { return []action{{op: opAttach}} },
	},
	{
		state: LoggingIn,
		actions: func(row scenario.ScenarioRow) []action {
			return []action{
				click(KeyLoginButton),
				typeText(KeyUsernameField, row.Credentials.User),
				{op: opType, key: KeyPasswordField, value: row.Credentials.Password, secret: true},
				click(KeySignInOK),
			}
		},
	},
	{
		state: AddingItems,
		actions: func(row scenario.ScenarioRow) []action {
			var out []action
			for _, item := range row.Items {
				for i := int64(0); i < item.Quantity; i++ {
					out = append(out, typeText(KeyItemEntry, item.Code), click(KeyItemConfirm))
				}
			}
			return out
		},
	},
	{
		state:   ApplyingPromotion,
		applies: scenario.ScenarioRow.HasPromotion,
		actions: func(row scenario.ScenarioRow) []action {
			return []action{typeText(KeyPromotionEntry, row.PromotionCode), click(KeyPromotionApply)}
		},
	},
	{
		state:   ApplyingLoyalty,
		applies: scenario.ScenarioRow.HasLoyalty,
		actions: func(row scenario.ScenarioRow) []action {
			return []action{typeText(KeyLoyaltyEntry, row.LoyaltyNumber), click(KeyLoyaltyConfirm)}
		},
	},
	{
		state: Tendering,
		actions: func(row scenario.ScenarioRow) []action {
			return []action{
				click(KeyCashTender),
				typeText(KeyTenderAmount, row.TenderAmount.Text('f')),
				click(KeyTenderConfirm),
			}
		},
	},
	{
		state:   Verifying,
		actions: func(scenario.ScenarioRow) []action { return []action{{op: opVerify, key: KeyTotalDisplay}} },
	},
}

// run is the per-invocation executor.
type run struct {
	engine    *Engine
	rc        *RunContext
	plan      *plan
	logger    *slog.Logger
	hook      logging.LoggerHook
	collector *logging.LogCollector
}

func (r *run) execute(ctx context.Context) {
	for _, st := range steps {
		name := st.state.String()
		if err := ctx.Err(); err != nil {
			r.fail(ctx, st.state, &Error{Kind: KindCancelled, Step: name, Err: err})
			return
		}
		if st.applies != nil && !st.applies(r.rc.Scenario) {
			r.logger.Debug("step skipped", "step", name)
			r.rc.Steps = append(r.rc.Steps, StepResult{Step: name, Outcome: OutcomeSkipped})
			continue
		}

		r.transition(st.state)
		if err := r.runStep(ctx, st); err != nil {
			r.fail(ctx, st.state, err)
			return
		}
	}
	r.transition(Completed)
	r.rc.Verdict.Status = StatusCompleted
}

func (r *run) transition(to State) {
	from := r.rc.state
	if !canTransition(from, to) {
		panic(fmt.Sprintf("engine: illegal transition %s -> %s", from, to))
	}
	r.rc.state = to
	r.rc.Path = append(r.rc.Path, to)
}

// doActions runs the step's actions in order, stopping at the first error.
// A panicking adapter fails the step with an AdapterError.
func (r *run) doActions(ctx context.Context, logger *slog.Logger, st step, timeout time.Duration, res *StepResult, recovered *bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &Error{Kind: KindAdapter, Step: st.state.String(), Err: fmt.Errorf("adapter panic: %v", p)}
		}
	}()
	for _, a := range st.actions(r.rc.Scenario) {
		if err = r.do(ctx, logger, st.state, a, timeout, res, recovered); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runStep(ctx context.Context, st step) error {
	e := r.engine
	name := st.state.String()
	logger := r.hook.LoggerForStep(r.logger, name)
	timeout := r.plan.timeout(e, st.state)

	res := StepResult{Step: name}
	recovered := false
	start := e.now()

	// Cancellation is honoured between steps only, so in-flight UI actions
	// run to completion or time out on their own.
	stepCtx := context.WithoutCancel(ctx)

	err := r.doActions(stepCtx, logger, st, timeout, &res, &recovered)

	res.Elapsed = e.now().Sub(start)
	e.recorder.StepFinished(name, res.Elapsed)

	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		logger.Error("step failed", "error", err, "elapsed", res.Elapsed)
	case recovered:
		res.Outcome = OutcomeRetriedOK
		logger.Info("step completed after recovery", "dismissed", res.Recovered, "elapsed", res.Elapsed)
	default:
		res.Outcome = OutcomeOK
		logger.Info("step completed", "elapsed", res.Elapsed)
	}
	if r.collector != nil {
		res.Logs = r.collector.GetLogs(name)
	}
	r.rc.Steps = append(r.rc.Steps, res)
	return err
}

func (r *run) do(ctx context.Context, logger *slog.Logger, state State, a action, timeout time.Duration, res *StepResult, recovered *bool) error {
	e := r.engine
	name := state.String()

	if a.op == opAttach {
		p := r.plan
		logger.Debug("attaching", "locator", p.settings.LaunchPath(), "title", p.titlePattern, "timeout", p.attachTimeout)
		app, err := e.adapter.LaunchOrAttach(ctx, p.settings.LaunchPath(), p.titlePattern, p.attachTimeout)
		if errors.Is(err, driver.ErrNotFound) {
			return &Error{Kind: KindNotFound, Step: name, Err: err}
		}
		if err != nil {
			return &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("launching %s: %w", p.settings.LaunchPath(), err)}
		}
		r.rc.app = app
		logger.Info("attached to application", "app", app.ID())
		return nil
	}

	want := driver.StateEnabled
	if a.op == opVerify {
		want = driver.StateVisible
	}
	c, err := r.resolve(ctx, logger, state, a.key, want, timeout, res, recovered)
	if err != nil {
		return err
	}

	switch a.op {
	case opClick:
		logger.Debug("click", "control", a.key)
		if err := e.adapter.Click(ctx, c); err != nil {
			return &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("clicking %s: %w", a.key, err)}
		}
	case opType:
		if a.secret {
			logger.Debug("set text", "control", a.key, "value", "********")
		} else {
			logger.Debug("set text", "control", a.key, "value", a.value)
		}
		if err := e.adapter.SetText(ctx, c, a.value); err != nil {
			return &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("typing into %s: %w", a.key, err)}
		}
	case opVerify:
		text, err := e.adapter.Text(ctx, c)
		if err != nil {
			return &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("reading %s: %w", a.key, err)}
		}
		return r.verify(logger, name, text)
	}
	return nil
}

// resolve finds a control with a bounded wait, making one recovery pass over
// the known interstitials if the first attempt fails, then waits for the
// control to reach want.
func (r *run) resolve(ctx context.Context, logger *slog.Logger, state State, key string, want driver.State, timeout time.Duration, res *StepResult, recovered *bool) (driver.Control, error) {
	e := r.engine
	name := state.String()
	sel := e.selectors[key]

	c, found, err := e.adapter.FindControl(ctx, r.rc.app, sel, timeout)
	if err != nil {
		return nil, &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("finding %s: %w", key, err)}
	}
	if !found {
		logger.Info("control not found, attempting recovery", "control", key, "selector", sel.String(), "timeout", timeout)
		dismissed, err := r.recover(ctx, logger)
		if err != nil {
			return nil, &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("recovering from interstitials: %w", err)}
		}
		*recovered = true
		res.Recovered = append(res.Recovered, dismissed...)
		e.recorder.Recovery(name)

		c, found, err = e.adapter.FindControl(ctx, r.rc.app, sel, timeout)
		if err != nil {
			return nil, &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("finding %s: %w", key, err)}
		}
		if !found {
			return nil, &Error{Kind: KindNotFound, Step: name, Err: fmt.Errorf("control %s %s not found after recovery", key, sel)}
		}
	}

	ok, err := e.adapter.WaitFor(ctx, driver.Condition{Control: c, State: want}, timeout)
	if err != nil {
		return nil, &Error{Kind: KindAdapter, Step: name, Err: fmt.Errorf("waiting for %s: %w", key, err)}
	}
	if !ok {
		return nil, &Error{Kind: KindNotFound, Step: name, Err: fmt.Errorf("control %s %s not %s within %s", key, sel, want, timeout)}
	}
	return c, nil
}

// recover probes each known interstitial once and dismisses those present.
func (r *run) recover(ctx context.Context, logger *slog.Logger) ([]string, error) {
	e := r.engine
	var dismissed []string
	for _, in := range e.interstitials {
		c, found, err := e.adapter.FindControl(ctx, r.rc.app, in.Detector, e.interstitialTimeout)
		if err != nil {
			return dismissed, fmt.Errorf("probing %s: %w", in.Name, err)
		}
		if !found {
			continue
		}
		if !in.Dismiss.IsZero() {
			c, found, err = e.adapter.FindControl(ctx, r.rc.app, in.Dismiss, e.interstitialTimeout)
			if err != nil {
				return dismissed, fmt.Errorf("finding dismiss control for %s: %w", in.Name, err)
			}
			if !found {
				logger.Warn("interstitial has no dismiss control", "interstitial", in.Name)
				continue
			}
		}
		if err := e.adapter.Click(ctx, c); err != nil {
			return dismissed, fmt.Errorf("dismissing %s: %w", in.Name, err)
		}
		logger.Info("dismissed interstitial", "interstitial", in.Name)
		dismissed = append(dismissed, in.Name)
	}
	return dismissed, nil
}

func (r *run) verify(logger *slog.Logger, step, text string) error {
	p := r.plan
	expected := formatAmount(&p.expected)
	r.rc.Verdict.Expected = expected
	r.rc.Verdict.Observed = text

	observed, err := ParseDisplayedTotal(text)
	if err != nil {
		return &Error{Kind: KindVerificationMismatch, Step: step, Err: fmt.Errorf("expected total %s, observed unreadable total: %w", expected, err)}
	}
	r.rc.Verdict.Observed = formatAmount(&observed)

	ok, err := withinTolerance(&p.expected, &observed, &p.tolerance)
	if err != nil {
		return &Error{Kind: KindVerificationMismatch, Step: step, Err: fmt.Errorf("comparing totals: %w", err)}
	}
	if !ok {
		return &Error{Kind: KindVerificationMismatch, Step: step, Err: fmt.Errorf("expected total %s, observed %s (tolerance %s)",
			expected, r.rc.Verdict.Observed, p.tolerance.Text('f'))}
	}
	logger.Info("total verified", "expected", expected, "observed", r.rc.Verdict.Observed, "currency", p.row.Currency)
	return nil
}

// fail moves the run to Failed and captures evidence for UI failures.
func (r *run) fail(ctx context.Context, state State, err error) {
	kind := KindOf(err)
	name := state.String()
	r.transition(Failed)

	v := &r.rc.Verdict
	v.Status = StatusFailed
	v.Step = name
	v.Kind = kind
	v.Reason = err.Error()
	if kind != KindVerificationMismatch {
		v.Expected, v.Observed = "", ""
	}

	if kind == KindCancelled {
		r.logger.Warn("run cancelled", "step", name)
		return
	}
	if !r.plan.evidence || r.rc.app == nil {
		return
	}
	ref := r.capture(context.WithoutCancel(ctx), name)
	if ref == "" {
		return
	}
	for i := len(r.rc.Steps) - 1; i >= 0; i-- {
		if r.rc.Steps[i].Step == name {
			r.rc.Steps[i].Evidence = ref
			break
		}
	}
}

// capture takes a failure snapshot. Errors are logged and never change the verdict.
func (r *run) capture(ctx context.Context, step string) (ref string) {
	e := r.engine
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("evidence capture failed", "step", step, "error", fmt.Sprintf("adapter panic: %v", p))
			ref = ""
		}
	}()
	png, err := e.adapter.CaptureSnapshot(ctx, r.rc.app)
	if err != nil {
		r.logger.Warn("evidence capture failed", "step", step, "error", err)
		return ""
	}
	ref, err = e.evidence.Save(ctx, r.rc.ID, step, png)
	if err != nil {
		r.logger.Warn("evidence save failed", "step", step, "error", err)
		return ""
	}
	r.logger.Info("evidence captured", "step", step, "ref", ref)
	return ref
}
