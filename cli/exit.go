package cli

import (
	"errors"
	"fmt"

	"github.com/nomis52/posrunner/report"
)

// ExitError carries the process exit status of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return fmt.Sprintf("exit status %d", e.Code)
	case e.Message == "":
		return e.Err.Error()
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// configError marks err as a configuration or data problem.
func configError(message string, err error) *ExitError {
	return &ExitError{Code: report.ExitConfigError, Message: message, Err: err}
}

// failed marks a command whose scenarios ran but did not all pass. Nothing is
// printed for it beyond the command's own output.
func failed(code int) *ExitError {
	return &ExitError{Code: code}
}

// ExitCode maps a command error to the process exit status. Errors that are
// not an *ExitError come from cobra itself (bad flags, unknown commands) and
// are treated as configuration errors.
func ExitCode(err error) int {
	if err == nil {
		return report.ExitPassed
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return report.ExitConfigError
}

// silent reports whether err needs no message on stderr.
func silent(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Message == "" && exitErr.Err == nil
}
