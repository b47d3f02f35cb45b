package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/taskscheduler/internal/store"
	"github.com/swarmguard/taskscheduler/internal/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler.db")
	meter := noop.MeterProvider{}.Meter("test")
	st, err := store.Open(context.Background(), dbPath, meter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTask(id string, deps ...string) task.Task {
	return task.Task{ID: id, Type: "noop", DurationMS: 5, Dependencies: deps, CreatedAt: time.Now()}
}

func TestCreateAndGetTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, newTask("a")))

	got, err := st.GetTask(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestCreateTaskRejectsDuplicateID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, newTask("a")))
	err := st.CreateTask(ctx, newTask("a"))

	var conflict *task.ConflictError
	assert.True(t, errors.As(err, &conflict))
}

func TestCreateTaskRejectsMissingDependency(t *testing.T) {
	st := newTestStore(t)
	err := st.CreateTask(context.Background(), newTask("a", "ghost"))

	var missing *task.MissingDependencyError
	assert.True(t, errors.As(err, &missing))
}

func TestGetTaskNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetTask(context.Background(), "nope")

	var notFound *task.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestFindReadyTaskIDsRespectsDependencies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, newTask("a")))
	require.NoError(t, st.CreateTask(ctx, newTask("b", "a")))

	ready, err := st.FindReadyTaskIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ready)

	ok, err := st.Claim(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.Complete(ctx, "a", task.StatusCompleted))

	ready, err = st.FindReadyTaskIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ready)
}

func TestFailedDependencyNeverUnblocksDependent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, newTask("a")))
	require.NoError(t, st.CreateTask(ctx, newTask("b", "a")))

	ok, err := st.Claim(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.Complete(ctx, "a", task.StatusFailed))

	ready, err := st.FindReadyTaskIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready)

	b, err := st.GetTask(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, b.Status)
}

func TestClaimIsAtMostOnceUnderConcurrency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("a")))

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.Claim(ctx, "a")
			require.NoError(t, err)
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestResetRunningToQueuedRestoresOrphanedTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("a")))

	ok, err := st.Claim(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := st.ResetRunningToQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetTask(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, newTask("a")))
	require.NoError(t, st.CreateTask(ctx, newTask("b")))

	ok, err := st.Claim(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[string(task.StatusQueued)])
	assert.Equal(t, 1, stats[string(task.StatusRunning)])
}
