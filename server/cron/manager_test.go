package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/posrunner/logging"
)

func TestNewCronTriggerManager(t *testing.T) {
	specs, err := ParseTriggerSpecs("basic_cash_sale,promo_sale:0 2 * * *;all:0 3 * * *", testScenarios)
	require.NoError(t, err)

	manager, err := NewCronTriggerManager(specs, &mockRunnable{}, logging.Discard(), testScenarios)
	require.NoError(t, err)
	assert.Len(t, manager.triggers, 2)
	assert.Equal(t, specs, manager.Specs())
}

func TestNewCronTriggerManager_Invalid(t *testing.T) {
	_, err := NewCronTriggerManager(nil, &mockRunnable{}, logging.Discard(), testScenarios)
	assert.Error(t, err)

	_, err = NewCronTriggerManager([]TriggerSpec{{Scenarios: []string{"unknown"}, CronSpec: "0 2 * * *"}}, &mockRunnable{}, logging.Discard(), testScenarios)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario")

	_, err = NewCronTriggerManager([]TriggerSpec{{Scenarios: []string{"all"}, CronSpec: "bad"}}, &mockRunnable{}, logging.Discard(), nil)
	assert.Error(t, err)
}

func TestCronTriggerManager_CallbacksCarryScenarios(t *testing.T) {
	runnable := &mockRunnable{}
	specs := []TriggerSpec{
		{Scenarios: []string{" promo_sale "}, CronSpec: "0 2 * * *"},
		{Scenarios: []string{"all"}, CronSpec: "0 3 * * *"},
	}
	manager, err := NewCronTriggerManager(specs, runnable, logging.Discard(), testScenarios)
	require.NoError(t, err)

	manager.triggers[0].fire()
	assert.Equal(t, []string{"promo_sale"}, runnable.scenarios.Load())
	manager.triggers[1].fire()
	assert.Equal(t, []string{"all"}, runnable.scenarios.Load())
	assert.Equal(t, int32(2), runnable.count.Load())
}

func TestCronTriggerManager_NextRun(t *testing.T) {
	specs := []TriggerSpec{
		{Scenarios: []string{"all"}, CronSpec: "0 20 * * *"},
		{Scenarios: []string{"all"}, CronSpec: "0 2 * * *"},
		{Scenarios: []string{"all"}, CronSpec: "0 14 * * *"},
	}
	manager, err := NewCronTriggerManager(specs, &mockRunnable{}, logging.Discard(), nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, tr := range manager.triggers {
		tr.now = func() time.Time { return now }
	}
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), manager.NextRun())

	empty := &CronTriggerManager{}
	assert.True(t, empty.NextRun().IsZero())
}

func TestCronTriggerManager_Start(t *testing.T) {
	runnable := &mockRunnable{}
	manager, err := NewCronTriggerManager([]TriggerSpec{{Scenarios: []string{"all"}, CronSpec: "0 0 1 1 *"}}, runnable, logging.Discard(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(0), runnable.count.Load())
}
