package task_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swarmguard/taskscheduler/internal/task"
)

func TestConflictErrorUnwrapsToSentinel(t *testing.T) {
	err := &task.ConflictError{ID: "a"}
	assert.True(t, errors.Is(err, task.ErrConflict))
	assert.Contains(t, err.Error(), "a")
}

func TestMissingDependencyErrorUnwrapsToSentinel(t *testing.T) {
	err := &task.MissingDependencyError{ID: "a", Dependency: "b"}
	assert.True(t, errors.Is(err, task.ErrMissingDependency))
	assert.Contains(t, err.Error(), "b")
}

func TestCycleErrorUnwrapsToSentinel(t *testing.T) {
	err := &task.CycleError{ID: "a", Path: []string{"a", "b", "a"}}
	assert.True(t, errors.Is(err, task.ErrCycle))
	assert.Contains(t, err.Error(), "a")
}

func TestNotFoundErrorUnwrapsToSentinel(t *testing.T) {
	err := &task.NotFoundError{ID: "missing"}
	assert.True(t, errors.Is(err, task.ErrNotFound))
}

func TestInvalidIDErrorUnwrapsToSentinel(t *testing.T) {
	err := &task.InvalidIDError{}
	assert.True(t, errors.Is(err, task.ErrInvalidID))
}
