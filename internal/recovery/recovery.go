// Package recovery runs the startup-only pass that restores invariant I6
// after an unclean shutdown: no task may be left RUNNING with nothing
// actually executing it.
package recovery

import (
	"context"
	"log/slog"
)

// Store is the subset of the store contract recovery needs.
type Store interface {
	ResetRunningToQueued(ctx context.Context) (int, error)
}

// Run resets every RUNNING task back to QUEUED. It must complete before
// the dispatcher starts accepting wake-ups, so a task orphaned by a crash
// is never silently stuck.
func Run(ctx context.Context, store Store) error {
	n, err := store.ResetRunningToQueued(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("recovery: reset orphaned running tasks to queued", "count", n)
	} else {
		slog.Info("recovery: no orphaned running tasks found")
	}
	return nil
}
