// Package workerpool executes claimed tasks against a pluggable Executor
// and always durably records their terminal outcome, even if the process
// is mid-shutdown when the task finishes.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskscheduler/internal/dispatcher"
	"github.com/swarmguard/taskscheduler/internal/executor"
	"github.com/swarmguard/taskscheduler/internal/task"
)

// CompleteStore is the subset of the store contract the pool needs to
// record a terminal outcome.
type CompleteStore interface {
	Complete(ctx context.Context, id string, outcome task.Status) error
}

// Pool runs claimed tasks on a goroutine per task that Run starts itself. It
// implements dispatcher.Pool.
type Pool struct {
	store CompleteStore
	exec  executor.Executor

	wg sync.WaitGroup

	tracer   trace.Tracer
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// New builds a Pool running tasks through exec and recording outcomes in
// store.
func New(store CompleteStore, exec executor.Executor) *Pool {
	meter := otel.Meter("taskscheduler")
	duration, _ := meter.Float64Histogram("scheduler_task_duration_ms")
	outcomes, _ := meter.Int64Counter("scheduler_task_outcomes_total")
	return &Pool{
		store:    store,
		exec:     exec,
		tracer:   otel.Tracer("taskscheduler-workerpool"),
		duration: duration,
		outcomes: outcomes,
	}
}

// Run starts t executing on its own goroutine. A claimed task has already
// committed to running: its execution is deliberately detached from ctx's
// cancellation so a shutdown signal cannot cut it short mid-sleep, only
// trace correlation is carried over from ctx. The dispatcher stops
// claiming new work on shutdown instead — that is where "newly claimed
// tasks are not started" is actually enforced.
func (p *Pool) Run(ctx context.Context, t task.Task) {
	release := dispatcher.ReleaseFromContext(ctx)
	detached := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer release()
		p.execute(detached, t)
	}()
}

// Wait blocks until every task started via Run has recorded its terminal
// outcome. Used during graceful shutdown after new claims have stopped.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) execute(ctx context.Context, t task.Task) {
	runCtx, span := p.tracer.Start(ctx, "workerpool.execute", trace.WithAttributes(
		attribute.String("task_id", t.ID),
		attribute.String("task_type", t.Type),
	))
	defer span.End()

	start := time.Now()
	execErr := p.exec.Execute(runCtx, t)
	elapsed := time.Since(start)

	outcome := task.StatusCompleted
	if execErr != nil {
		outcome = task.StatusFailed
		slog.Warn("task failed", "task_id", t.ID, "error", execErr)
	}

	p.duration.Record(context.Background(), float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("task_type", t.Type)))
	p.outcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))

	// Deliberately detached from runCtx/shutdown cancellation: once a task
	// has actually finished executing, its terminal state must commit.
	if err := p.store.Complete(context.Background(), t.ID, outcome); err != nil {
		slog.Error("failed to record task outcome", "task_id", t.ID, "outcome", outcome, "error", err)
	}
}
