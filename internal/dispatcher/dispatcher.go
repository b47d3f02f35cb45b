// Package dispatcher runs the single cooperative loop that moves QUEUED
// tasks with satisfied dependencies into the worker pool, bounded by
// max_concurrent in-flight tasks.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskscheduler/internal/task"
)

// ReadyStore is the subset of the store contract the dispatcher needs: the
// readiness index and the atomic claim.
type ReadyStore interface {
	FindReadyTaskIDs(ctx context.Context) ([]string, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	Claim(ctx context.Context, id string) (bool, error)
}

// Pool is the worker pool surface the dispatcher hands claimed work to. Run
// must not block past accepting the task for execution.
type Pool interface {
	Run(ctx context.Context, t task.Task)
}

// Dispatcher is the single control loop translating readiness into claims.
// A buffered size-1 wake channel coalesces any number of concurrent nudges
// into a single pending sweep, and a counting semaphore sized to
// max_concurrent bounds how many claim attempts — and therefore how many
// RUNNING tasks — can be in flight at any instant (invariant P3).
type Dispatcher struct {
	store ReadyStore
	pool  Pool

	wake     chan struct{}
	sem      chan struct{}
	pollTick time.Duration

	tracer   trace.Tracer
	inFlight metric.Int64UpDownCounter
}

// New builds a Dispatcher bounded to maxConcurrent simultaneous RUNNING
// tasks, falling back to a pollTick sweep in case a Nudge is ever missed.
func New(store ReadyStore, pool Pool, maxConcurrent int, pollTick time.Duration) *Dispatcher {
	meter := otel.Meter("taskscheduler")
	inFlight, _ := meter.Int64UpDownCounter("scheduler_dispatcher_in_flight")
	return &Dispatcher{
		store:    store,
		pool:     pool,
		wake:     make(chan struct{}, 1),
		sem:      make(chan struct{}, maxConcurrent),
		pollTick: pollTick,
		tracer:   otel.Tracer("taskscheduler-dispatcher"),
		inFlight: inFlight,
	}
}

// Nudge schedules a sweep without blocking; any number of calls made while
// a sweep is pending collapse into that single sweep.
func (d *Dispatcher) Nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled. Callers should Nudge once
// after recovery completes so any tasks reset to QUEUED are picked up
// immediately rather than waiting for the first poll tick.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			d.sweep(ctx)
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep claims as many ready tasks as the semaphore currently allows. Each
// claim attempt acquires one semaphore slot before the conditional update,
// not after — acquiring late would let more than max_concurrent claims
// race the same instant.
func (d *Dispatcher) sweep(ctx context.Context) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.sweep")
	defer span.End()

	ids, err := d.store.FindReadyTaskIDs(ctx)
	if err != nil {
		slog.Error("dispatcher: find ready tasks failed", "error", err)
		return
	}

	for _, id := range ids {
		select {
		case d.sem <- struct{}{}:
		default:
			// Semaphore saturated: stop this sweep, the next wake or poll
			// tick will pick up where this one left off.
			return
		}

		claimed, err := d.store.Claim(ctx, id)
		if err != nil {
			slog.Error("dispatcher: claim failed", "task_id", id, "error", err)
			<-d.sem
			continue
		}
		if !claimed {
			// Lost the race to another dispatcher instance or a retried
			// sweep; release the slot immediately, nothing to run.
			<-d.sem
			continue
		}

		t, err := d.store.GetTask(ctx, id)
		if err != nil {
			slog.Error("dispatcher: load claimed task failed", "task_id", id, "error", err)
			<-d.sem
			continue
		}

		d.inFlight.Add(ctx, 1)
		release := func() {
			d.inFlight.Add(ctx, -1)
			<-d.sem
			d.Nudge()
		}
		d.pool.Run(contextWithRelease(ctx, release), t)
	}
}

type releaseKey struct{}

// contextWithRelease attaches the per-claim semaphore release callback so
// the worker pool can invoke it exactly once, when the task's outcome has
// been durably recorded.
func contextWithRelease(ctx context.Context, release func()) context.Context {
	return context.WithValue(ctx, releaseKey{}, release)
}

// ReleaseFromContext retrieves the release callback Run's context carries,
// if any.
func ReleaseFromContext(ctx context.Context) func() {
	if fn, ok := ctx.Value(releaseKey{}).(func()); ok {
		return fn
	}
	return func() {}
}
