// Package admission validates a task against the DAG before it ever
// reaches the store: uniqueness, dependency existence, and acyclicity.
package admission

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskscheduler/internal/task"
)

// TaskStore is the subset of the store contract admission needs to
// validate and persist a new task.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context) ([]task.Task, error)
	CreateTask(ctx context.Context, t task.Task) error
}

// Wake is signaled after a successful admission so the dispatcher can sweep
// for newly-ready tasks without waiting for its poll interval.
type Wake interface {
	Nudge()
}

// Admitter serializes admission end to end: the graph read, cycle check,
// and insert all happen while holding mu, so two concurrent admissions can
// never both validate against a graph the other is about to invalidate.
type Admitter struct {
	store TaskStore
	wake  Wake

	mu sync.Mutex

	tracer   trace.Tracer
	admitted metric.Int64Counter
	rejected metric.Int64Counter
}

// New builds an Admitter over store, notifying wake after each admission.
func New(store TaskStore, wake Wake) *Admitter {
	meter := otel.Meter("taskscheduler")
	admitted, _ := meter.Int64Counter("scheduler_admission_admitted_total")
	rejected, _ := meter.Int64Counter("scheduler_admission_rejected_total")
	return &Admitter{
		store:    store,
		wake:     wake,
		tracer:   otel.Tracer("taskscheduler-admission"),
		admitted: admitted,
		rejected: rejected,
	}
}

// Admit validates and, if valid, persists t. Dependencies are treated as a
// deduplicated set: duplicate entries in t.Dependencies collapse to one
// edge and are not themselves an admission error.
func (a *Admitter) Admit(ctx context.Context, t task.Task) error {
	ctx, span := a.tracer.Start(ctx, "admission.admit", trace.WithAttributes(attribute.String("task_id", t.ID)))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if t.ID == "" {
		a.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_id")))
		return &task.InvalidIDError{}
	}

	t.Dependencies = dedupe(t.Dependencies)

	if _, err := a.store.GetTask(ctx, t.ID); err == nil {
		a.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "conflict")))
		return &task.ConflictError{ID: t.ID}
	}

	for _, dep := range t.Dependencies {
		if dep == t.ID {
			a.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "cycle")))
			return &task.CycleError{ID: t.ID}
		}
	}

	existing, err := a.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]task.Task, len(existing)+1)
	for _, e := range existing {
		byID[e.ID] = e
	}
	byID[t.ID] = t

	for _, dep := range t.Dependencies {
		if _, ok := byID[dep]; !ok {
			a.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "missing_dependency")))
			return &task.MissingDependencyError{ID: t.ID, Dependency: dep}
		}
	}

	if cyclePath, ok := findCycle(t.ID, byID); ok {
		a.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "cycle")))
		return &task.CycleError{ID: t.ID, Path: cyclePath}
	}

	if err := a.store.CreateTask(ctx, t); err != nil {
		return err
	}

	a.admitted.Add(ctx, 1)
	if a.wake != nil {
		a.wake.Nudge()
	}
	return nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// frame is one entry on the explicit DFS worklist: the node being visited
// and how far through its dependency list the walk has progressed.
type frame struct {
	id   string
	next int
}

// findCycle walks the dependency graph starting at startID using an
// explicit stack rather than recursion, so a long dependency chain cannot
// exhaust the goroutine stack. It returns the cycle path when one exists.
func findCycle(startID string, byID map[string]task.Task) ([]string, bool) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored, known acyclic
	)
	color := make(map[string]int, len(byID))

	stack := []frame{{id: startID}}
	color[startID] = gray
	path := []string{startID}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		node := byID[top.id]

		if top.next >= len(node.Dependencies) {
			color[top.id] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
			continue
		}

		dep := node.Dependencies[top.next]
		top.next++

		switch color[dep] {
		case white:
			color[dep] = gray
			path = append(path, dep)
			stack = append(stack, frame{id: dep})
		case gray:
			cycle := append(append([]string{}, path...), dep)
			return cycle, true
		case black:
			// already known acyclic from here, nothing to do
		}
	}
	return nil, false
}

// WakeFunc adapts a plain function to the Wake interface.
type WakeFunc func()

// Nudge implements Wake.
func (f WakeFunc) Nudge() { f() }
