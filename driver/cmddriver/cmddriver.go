// Package cmddriver implements driver.Adapter by invoking an external UI
// automation helper that runs next to the POS client.
//
// The helper is called once per capability. Each call prints a single JSON
// reply on stdout:
//
//	pos-helper find --app 4711 --auto-id UserName --control-type Edit --timeout 5s
//	{"ok":true,"found":true,"control":"0x1F04A2"}
//
// Values typed into controls are written to the helper's stdin rather than
// passed as arguments, so passwords stay out of process listings and SSH
// command lines:
//
//	pos-helper set-text --app 4711 --control 0x1F04A2 --value-stdin
//
// Failures are reported in-band with ok=false. The error code "not_found"
// from launch maps to driver.ErrNotFound; every other failure is an adapter
// error. The helper can run locally (ExecRunner) or on the POS host over SSH
// (SSHRunner).
package cmddriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nomis52/posrunner/driver"
)

var _ driver.Adapter = (*Driver)(nil)

// Error codes the helper may return.
const (
	codeNotFound = "not_found"
)

// reply is the JSON document printed by the helper.
type reply struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	App     string `json:"app,omitempty"`
	Control string `json:"control,omitempty"`
	Found   bool   `json:"found,omitempty"`
	Text    string `json:"text,omitempty"`
	PNG     []byte `json:"png,omitempty"`
}

type application struct {
	id string
}

func (a *application) ID() string { return a.id }

type control struct {
	app    string
	handle string
	sel    driver.Selector
}

func (c *control) Selector() driver.Selector { return c.sel }

// HelperError is a failure reported by the helper itself.
type HelperError struct {
	Command string
	Code    string
	Message string
}

func (e *HelperError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("helper %s failed: %s", e.Command, e.Message)
	}
	return fmt.Sprintf("helper %s failed (%s): %s", e.Command, e.Code, e.Message)
}

// Driver talks to the automation helper through a CommandRunner.
type Driver struct {
	helper string
	runner CommandRunner
	slack  time.Duration
	logger *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithRunner sets the command runner. Defaults to ExecRunner.
func WithRunner(r CommandRunner) Option {
	return func(d *Driver) {
		d.runner = r
	}
}

// WithSlack sets the extra time granted to each helper process beyond the
// wait it was asked to perform.
func WithSlack(slack time.Duration) Option {
	return func(d *Driver) {
		d.slack = slack
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger.With("component", "cmddriver")
	}
}

// New creates a Driver that invokes the helper binary at path.
func New(helper string, opts ...Option) *Driver {
	d := &Driver{
		helper: helper,
		runner: ExecRunner{},
		slack:  10 * time.Second,
		logger: slog.Default().With("component", "cmddriver"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LaunchOrAttach implements driver.Adapter.
func (d *Driver) LaunchOrAttach(ctx context.Context, locator, expectedTitle string, timeout time.Duration) (driver.Application, error) {
	r, err := d.call(ctx, timeout, "launch",
		"--locator", locator,
		"--title-re", expectedTitle,
		"--timeout", timeout.String(),
	)
	if err != nil {
		var he *HelperError
		if errors.As(err, &he) && he.Code == codeNotFound {
			return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, he.Message)
		}
		return nil, err
	}
	if r.App == "" {
		return nil, errors.New("helper launch returned no application handle")
	}
	return &application{id: r.App}, nil
}

// FindControl implements driver.Adapter.
func (d *Driver) FindControl(ctx context.Context, app driver.Application, sel driver.Selector, timeout time.Duration) (driver.Control, bool, error) {
	args := []string{"--app", app.ID()}
	args = append(args, selectorArgs(sel)...)
	args = append(args, "--timeout", timeout.String())

	r, err := d.call(ctx, timeout, "find", args...)
	if err != nil {
		return nil, false, err
	}
	if !r.Found {
		return nil, false, nil
	}
	return &control{app: app.ID(), handle: r.Control, sel: sel}, true, nil
}

// SetText implements driver.Adapter.
func (d *Driver) SetText(ctx context.Context, c driver.Control, value string) error {
	ctl, err := asControl(c)
	if err != nil {
		return err
	}
	_, err = d.callWithInput(ctx, 0, []byte(value), "set-text", "--app", ctl.app, "--control", ctl.handle, "--value-stdin")
	return err
}

// Click implements driver.Adapter.
func (d *Driver) Click(ctx context.Context, c driver.Control) error {
	ctl, err := asControl(c)
	if err != nil {
		return err
	}
	_, err = d.call(ctx, 0, "click", "--app", ctl.app, "--control", ctl.handle)
	return err
}

// Text implements driver.Adapter.
func (d *Driver) Text(ctx context.Context, c driver.Control) (string, error) {
	ctl, err := asControl(c)
	if err != nil {
		return "", err
	}
	r, err := d.call(ctx, 0, "text", "--app", ctl.app, "--control", ctl.handle)
	if err != nil {
		return "", err
	}
	return r.Text, nil
}

// WaitFor implements driver.Adapter.
func (d *Driver) WaitFor(ctx context.Context, cond driver.Condition, timeout time.Duration) (bool, error) {
	ctl, err := asControl(cond.Control)
	if err != nil {
		return false, err
	}
	r, err := d.call(ctx, timeout, "wait",
		"--app", ctl.app,
		"--control", ctl.handle,
		"--state", cond.State.String(),
		"--timeout", timeout.String(),
	)
	if err != nil {
		return false, err
	}
	return r.Found, nil
}

// CaptureSnapshot implements driver.Adapter.
func (d *Driver) CaptureSnapshot(ctx context.Context, app driver.Application) ([]byte, error) {
	r, err := d.call(ctx, 0, "snapshot", "--app", app.ID())
	if err != nil {
		return nil, err
	}
	if len(r.PNG) == 0 {
		return nil, errors.New("helper snapshot returned no image")
	}
	return r.PNG, nil
}

// Close implements driver.Adapter.
func (d *Driver) Close(ctx context.Context, app driver.Application) error {
	_, err := d.call(ctx, 0, "close", "--app", app.ID())
	return err
}

// call runs one helper command and decodes its reply. The helper process is
// bounded by wait plus the configured slack.
func (d *Driver) call(ctx context.Context, wait time.Duration, command string, args ...string) (*reply, error) {
	return d.callWithInput(ctx, wait, nil, command, args...)
}

// callWithInput is call with stdin fed to the helper.
func (d *Driver) callWithInput(ctx context.Context, wait time.Duration, stdin []byte, command string, args ...string) (*reply, error) {
	ctx, cancel := context.WithTimeout(ctx, wait+d.slack)
	defer cancel()

	start := time.Now()
	out, err := d.runner.Run(ctx, stdin, d.helper, append([]string{command}, args...)...)
	d.logger.Debug("helper call",
		"command", command,
		"duration", time.Since(start),
		"error", err,
	)
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("helper %s: %w", command, err)
	}

	var r reply
	if jerr := json.Unmarshal(out, &r); jerr != nil {
		if err != nil {
			return nil, fmt.Errorf("helper %s: %w", command, err)
		}
		return nil, fmt.Errorf("helper %s: invalid reply %q: %w", command, truncate(string(out), 200), jerr)
	}
	if !r.OK {
		return nil, &HelperError{Command: command, Code: r.Error, Message: r.Message}
	}
	if err != nil {
		return nil, fmt.Errorf("helper %s: %w", command, err)
	}
	return &r, nil
}

func asControl(c driver.Control) (*control, error) {
	ctl, ok := c.(*control)
	if !ok {
		return nil, fmt.Errorf("foreign control handle %T", c)
	}
	return ctl, nil
}

func selectorArgs(sel driver.Selector) []string {
	var args []string
	if sel.AutomationID != "" {
		args = append(args, "--auto-id", sel.AutomationID)
	}
	if sel.ControlType != "" {
		args = append(args, "--control-type", sel.ControlType)
	}
	if sel.ClassName != "" {
		args = append(args, "--class-name", sel.ClassName)
	}
	if sel.Title != "" {
		args = append(args, "--title", sel.Title)
	}
	return args
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
