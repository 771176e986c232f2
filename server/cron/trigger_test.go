package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/posrunner/logging"
)

type mockRunnable struct {
	count     atomic.Int32
	err       error
	scenarios atomic.Value
}

func (m *mockRunnable) Trigger(scenarios []string) error {
	m.count.Add(1)
	m.scenarios.Store(scenarios)
	return m.err
}

func TestNewCronTrigger(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{spec: "0 2 * * *"},
		{spec: "*/15 * * * *"},
		{spec: "@hourly"},
		{spec: "", wantErr: true},
		{spec: "not a cron spec", wantErr: true},
		{spec: "0 2 *", wantErr: true},
		{spec: "60 2 * * *", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			trigger, err := NewCronTrigger(tt.spec, func() error { return nil }, logging.Discard())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCronSpec)
				assert.Nil(t, trigger)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec, trigger.Spec())
		})
	}
}

func TestCronTrigger_NextRun(t *testing.T) {
	trigger, err := NewCronTrigger("30 2 * * *", func() error { return nil }, logging.Discard())
	require.NoError(t, err)
	trigger.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	assert.Equal(t, time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC), trigger.NextRun())
}

func TestCronTrigger_FireLogsErrors(t *testing.T) {
	runnable := &mockRunnable{err: errors.New("a batch is already in progress")}
	trigger, err := NewCronTrigger("@daily", func() error { return runnable.Trigger([]string{"all"}) }, logging.Discard())
	require.NoError(t, err)

	assert.NotPanics(t, trigger.fire)
	assert.Equal(t, int32(1), runnable.count.Load())
}

func TestCronTrigger_CancellationStopsLoop(t *testing.T) {
	var fired atomic.Int32
	trigger, err := NewCronTrigger("0 0 1 1 *", func() error {
		fired.Add(1)
		return nil
	}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	trigger.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(0), fired.Load())
}
