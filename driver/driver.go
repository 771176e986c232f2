// Package driver defines the capability surface the scenario engine uses to
// drive a POS application window.
//
// Adapters hide the native automation API. The engine only ever sees the
// Adapter interface and the opaque Application and Control handles it
// returns. Two adapters ship with posrunner:
//
//   - cmddriver invokes an external automation helper over local exec or SSH
//   - simdriver is an in-memory POS used for dry runs and tests
//
// Absence of a control is reported by the boolean result of FindControl and
// WaitFor, never as an error. An error from any method means the adapter
// itself could not do its job.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by LaunchOrAttach when the main window never appears.
var ErrNotFound = errors.New("window not found")

// Application is an opaque handle to one running POS application instance.
type Application interface {
	// ID identifies the instance for logs, e.g. a process ID or window handle.
	ID() string
}

// Control is an opaque handle to a resolved UI element.
type Control interface {
	// Selector returns the selector the control was resolved with.
	Selector() Selector
}

// Selector identifies a UI element using the native automation vocabulary.
// Empty fields are ignored when matching.
type Selector struct {
	AutomationID string `yaml:"auto_id,omitempty" json:"auto_id,omitempty"`
	ControlType  string `yaml:"control_type,omitempty" json:"control_type,omitempty"`
	ClassName    string `yaml:"class_name,omitempty" json:"class_name,omitempty"`
	Title        string `yaml:"title,omitempty" json:"title,omitempty"`
}

// IsZero reports whether the selector has no criteria.
func (s Selector) IsZero() bool {
	return s == Selector{}
}

// Matches reports whether every non-empty criterion of s equals the
// corresponding field of other.
func (s Selector) Matches(other Selector) bool {
	if s.IsZero() {
		return false
	}
	return (s.AutomationID == "" || s.AutomationID == other.AutomationID) &&
		(s.ControlType == "" || s.ControlType == other.ControlType) &&
		(s.ClassName == "" || s.ClassName == other.ClassName) &&
		(s.Title == "" || s.Title == other.Title)
}

func (s Selector) String() string {
	var parts []string
	if s.AutomationID != "" {
		parts = append(parts, "auto_id="+s.AutomationID)
	}
	if s.ControlType != "" {
		parts = append(parts, "control_type="+s.ControlType)
	}
	if s.ClassName != "" {
		parts = append(parts, "class_name="+s.ClassName)
	}
	if s.Title != "" {
		parts = append(parts, "title="+s.Title)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// State is a control readiness condition.
type State int

const (
	StateVisible State = iota
	StateEnabled
	StateReady
)

func (s State) String() string {
	switch s {
	case StateVisible:
		return "visible"
	case StateEnabled:
		return "enabled"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState converts a state name to a State.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "visible":
		return StateVisible, nil
	case "enabled":
		return StateEnabled, nil
	case "ready":
		return StateReady, nil
	default:
		return 0, fmt.Errorf("unknown control state %q", s)
	}
}

// Condition is something WaitFor can wait on.
type Condition struct {
	Control Control
	State   State
}

// Adapter is the capability interface over a native UI automation API.
type Adapter interface {
	// LaunchOrAttach attaches to a running instance whose main window title
	// matches the regular expression expectedTitle, launching locator first
	// if none is running.
	// Returns an error wrapping ErrNotFound if no window appears within timeout.
	LaunchOrAttach(ctx context.Context, locator, expectedTitle string, timeout time.Duration) (Application, error)

	// FindControl resolves sel within app, waiting up to timeout.
	FindControl(ctx context.Context, app Application, sel Selector, timeout time.Duration) (Control, bool, error)

	// SetText replaces the text content of c.
	SetText(ctx context.Context, c Control, value string) error

	// Click activates c.
	Click(ctx context.Context, c Control) error

	// Text reads the displayed text of c.
	Text(ctx context.Context, c Control) (string, error)

	// WaitFor waits up to timeout for cond to hold.
	WaitFor(ctx context.Context, cond Condition, timeout time.Duration) (bool, error)

	// CaptureSnapshot returns a PNG image of the application window.
	CaptureSnapshot(ctx context.Context, app Application) ([]byte, error)

	// Close releases app. Launched instances are terminated, attached ones are detached.
	Close(ctx context.Context, app Application) error
}

// DefaultPollInterval is the interval used by Poll when none is given.
const DefaultPollInterval = 250 * time.Millisecond

// Poll calls fn until it returns true, an error, or timeout elapses.
// fn is always called at least once. A context cancellation ends the poll
// with ctx.Err().
func Poll(ctx context.Context, timeout, interval time.Duration, fn func() (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := fn()
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
