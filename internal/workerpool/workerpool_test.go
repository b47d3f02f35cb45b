package workerpool_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/taskscheduler/internal/task"
	"github.com/swarmguard/taskscheduler/internal/workerpool"
)

type fakeCompleteStore struct {
	mu       sync.Mutex
	outcomes map[string]task.Status
}

func newFakeCompleteStore() *fakeCompleteStore {
	return &fakeCompleteStore{outcomes: make(map[string]task.Status)}
}

func (s *fakeCompleteStore) Complete(_ context.Context, id string, outcome task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[id] = outcome
	return nil
}

func (s *fakeCompleteStore) get(id string) (task.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.outcomes[id]
	return v, ok
}

type scriptedExecutor struct {
	fail  bool
	delay time.Duration
}

func (e scriptedExecutor) Execute(_ context.Context, t task.Task) error {
	time.Sleep(e.delay)
	if e.fail || strings.HasPrefix(t.Type, "fail") {
		return errors.New("boom")
	}
	return nil
}

func TestWorkerPoolRecordsCompletedOutcome(t *testing.T) {
	store := newFakeCompleteStore()
	pool := workerpool.New(store, scriptedExecutor{})

	pool.Run(context.Background(), task.Task{ID: "a", Type: "ok"})
	pool.Wait()

	outcome, ok := store.get("a")
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, outcome)
}

func TestWorkerPoolRecordsFailedOutcome(t *testing.T) {
	store := newFakeCompleteStore()
	pool := workerpool.New(store, scriptedExecutor{fail: true})

	pool.Run(context.Background(), task.Task{ID: "a", Type: "anything"})
	pool.Wait()

	outcome, ok := store.get("a")
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, outcome)
}

func TestWorkerPoolCommitsOutcomeAfterContextCancellation(t *testing.T) {
	store := newFakeCompleteStore()
	pool := workerpool.New(store, scriptedExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Run(ctx, task.Task{ID: "a", Type: "ok"})
	cancel()
	pool.Wait()

	_, ok := store.get("a")
	assert.True(t, ok, "terminal outcome must commit even if the run context is cancelled mid-shutdown")
}

func TestWorkerPoolRunsTasksConcurrently(t *testing.T) {
	store := newFakeCompleteStore()
	// Five 300ms tasks take 1.5s run one after another, well under 1s in parallel.
	pool := workerpool.New(store, scriptedExecutor{delay: 300 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 5; i++ {
		pool.Run(context.Background(), task.Task{ID: string(rune('a' + i)), Type: "ok"})
	}
	pool.Wait()
	assert.Less(t, time.Since(start), time.Second)
}
