// Package task defines the scheduler's sole durable entity and its
// lifecycle states.
package task

import "time"

// Status is the lifecycle state of a Task. Transitions are restricted to
// QUEUED -> RUNNING -> {COMPLETED, FAILED}; no other transition is legal.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Task is the unit of schedulable work. Dependencies are fixed at creation;
// Status is mutated only by the engine through the Store's transactional
// operations.
type Task struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	DurationMS   int64      `json:"duration_ms"`
	Dependencies []string   `json:"dependencies"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
