package engine

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned by Run when the engine's application instance
// is already owned by another run.
var ErrRunInProgress = errors.New("a run is already in progress on this engine")

// Kind classifies why a run failed.
type Kind int

const (
	// KindNone is the kind of a completed run.
	KindNone Kind = iota
	// KindConfiguration covers missing or invalid settings and scenario data.
	// It is raised before any UI interaction and never retried.
	KindConfiguration
	// KindNotFound means an expected control was absent after the bounded wait
	// and one recovery pass.
	KindNotFound
	// KindVerificationMismatch means the POS displayed a total that disagrees
	// with the expected one. This is a genuine test failure.
	KindVerificationMismatch
	// KindAdapter means the automation surface itself failed. This is an
	// infrastructure failure rather than wrong POS behaviour.
	KindAdapter
	// KindCancelled means the caller cancelled the run between steps.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindConfiguration:
		return "ConfigurationError"
	case KindNotFound:
		return "NotFound"
	case KindVerificationMismatch:
		return "VerificationMismatch"
	case KindAdapter:
		return "AdapterError"
	case KindCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText lets kinds appear by name in reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a classified run failure.
type Error struct {
	Kind Kind
	// Step is the state the failure occurred in; empty for configuration errors.
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindAdapter for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAdapter
}

func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}
