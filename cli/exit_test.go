package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nomis52/posrunner/report"
)

func TestExitError_Error(t *testing.T) {
	cause := errors.New("settings.csv: no such file")
	tests := []struct {
		name string
		err  *ExitError
		want string
	}{
		{name: "failed scenarios", err: failed(report.ExitFailed), want: "exit status 1"},
		{name: "cause only", err: &ExitError{Code: report.ExitConfigError, Err: cause}, want: "settings.csv: no such file"},
		{name: "message and cause", err: configError("loading settings", cause), want: "loading settings: settings.csv: no such file"},
		{name: "message only", err: &ExitError{Code: report.ExitConfigError, Message: "no scenarios selected"}, want: "no scenarios selected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, tt.err.Error())
			})
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, report.ExitPassed, ExitCode(nil))
	assert.Equal(t, report.ExitFailed, ExitCode(fmt.Errorf("batch: %w", failed(report.ExitFailed))))
	assert.Equal(t, report.ExitConfigError, ExitCode(configError("bad flag", nil)))
	assert.Equal(t, report.ExitConfigError, ExitCode(errors.New("unknown command \"frobnicate\"")))
	assert.True(t, silent(failed(report.ExitFailed)))
	assert.False(t, silent(configError("bad flag", nil)))
}
