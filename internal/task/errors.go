package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error checking via errors.Is(), matching
// the HTTP error kinds in the admission and lookup contracts.
var (
	ErrConflict          = errors.New("task already exists")
	ErrMissingDependency = errors.New("dependency does not exist")
	ErrCycle             = errors.New("admission would create a cycle")
	ErrNotFound          = errors.New("task not found")
	ErrInvalidID         = errors.New("task id is empty")
)

// InvalidIDError reports an empty task id at admission.
type InvalidIDError struct{}

func (InvalidIDError) Error() string { return ErrInvalidID.Error() }
func (InvalidIDError) Unwrap() error { return ErrInvalidID }

// ConflictError reports a duplicate task id at admission. Wraps ErrConflict.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s: %q", ErrConflict, e.ID) }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// MissingDependencyError reports a declared dependency id that does not
// exist. Wraps ErrMissingDependency.
type MissingDependencyError struct {
	ID         string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s: task %q depends on unknown task %q", ErrMissingDependency, e.ID, e.Dependency)
}
func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// CycleError reports that admitting a task would introduce a cycle,
// including the degenerate self-dependency case. Path lists the cycle for
// diagnostics, starting at ID and following dependency edges until it
// returns to ID; it is empty when the cycle is a direct self-reference.
type CycleError struct {
	ID   string
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s: task %q depends on itself", ErrCycle, e.ID)
	}
	return fmt.Sprintf("%s: admitting %q would close a cycle through %v", ErrCycle, e.ID, e.Path)
}
func (e *CycleError) Unwrap() error { return ErrCycle }

// NotFoundError reports a lookup of an unknown task id. Wraps ErrNotFound.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s: %q", ErrNotFound, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
