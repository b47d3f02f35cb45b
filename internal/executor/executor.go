// Package executor defines the pluggable unit of work the worker pool runs
// for each claimed task. Production task types are opaque strings; this
// package only ships the default executor used for simulation and testing.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/swarmguard/taskscheduler/internal/task"
)

// Executor runs a single claimed task to completion. Implementations must
// honor ctx cancellation for graceful shutdown of tasks still in flight,
// but the caller is responsible for recording the terminal outcome even if
// ctx is later cancelled.
type Executor interface {
	Execute(ctx context.Context, t task.Task) error
}

// SleepExecutor simulates work by sleeping for the task's declared
// duration. A task whose Type carries the "fail:" prefix is used by tests
// to deterministically exercise the FAILED path without a real executor
// plugin.
type SleepExecutor struct{}

// Execute blocks for t.DurationMS milliseconds, returning early with
// ctx.Err() if the context is cancelled first.
func (SleepExecutor) Execute(ctx context.Context, t task.Task) error {
	d := time.Duration(t.DurationMS) * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if strings.HasPrefix(t.Type, "fail:") {
		return fmt.Errorf("task %q: simulated failure for type %q", t.ID, t.Type)
	}
	return nil
}
