package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/taskscheduler/internal/executor"
	"github.com/swarmguard/taskscheduler/internal/task"
)

func TestSleepExecutorSucceeds(t *testing.T) {
	e := executor.SleepExecutor{}
	start := time.Now()
	err := e.Execute(context.Background(), task.Task{ID: "a", Type: "noop", DurationMS: 20})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleepExecutorFaultInjection(t *testing.T) {
	e := executor.SleepExecutor{}
	err := e.Execute(context.Background(), task.Task{ID: "a", Type: "fail:boom", DurationMS: 1})
	assert.Error(t, err)
}

func TestSleepExecutorHonorsCancellation(t *testing.T) {
	e := executor.SleepExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Execute(ctx, task.Task{ID: "a", Type: "noop", DurationMS: time.Hour.Milliseconds()})
	assert.ErrorIs(t, err, context.Canceled)
}
