// Package models defines records shared by the lifecycle service and its
// callers.
//
// Task Model:
//
// A [Task] is one unit of work assigned to an agent. Its status is tracked
// independently of the agent's lifecycle state:
//
//	pending → running → completed
//	                  → failed
//	                  → cancelled
//	                  → timeout
//
// Pending tasks may also be cancelled before they start. Once a task
// reaches a terminal status it does not change again.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the execution status of a task.
type TaskStatus string

const (
	// TaskStatusPending is the initial status set by [NewTask].
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates an agent is executing the task.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted is terminal.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed is terminal. The cause is in [Task.Error].
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled is terminal.
	TaskStatusCancelled TaskStatus = "cancelled"

	// TaskStatusTimeout is terminal.
	TaskStatusTimeout TaskStatus = "timeout"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// Valid reports whether the task status is one of the recognized values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status change is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusTimeout:
		return true
	default:
		return false
	}
}

// Task is one unit of work assigned to an agent.
type Task struct {
	// ID is the unique identifier for this task (UUID v4).
	ID string `json:"id" db:"id"`

	// AgentID is the agent the task is assigned to.
	AgentID string `json:"agent_id" db:"agent_id"`

	// Type names the kind of work, e.g. "code_generation".
	Type string `json:"task_type" db:"task_type"`

	Status TaskStatus `json:"status" db:"status"`

	// Parameters are the task inputs.
	Parameters map[string]any `json:"parameters" db:"parameters"`

	// Result is set when the task completes.
	Result map[string]any `json:"result,omitempty" db:"result"`

	// Error is set when the task fails or times out.
	Error string `json:"error,omitempty" db:"error"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// NewTask creates a pending task with a generated UUID. A nil parameters
// map is normalized to an empty map.
func NewTask(agentID, taskType string, parameters map[string]any) (*Task, error) {
	if agentID == "" {
		return nil, errors.New("models: task agentID must not be empty")
	}
	if taskType == "" {
		return nil, errors.New("models: task type must not be empty")
	}
	if parameters == nil {
		parameters = make(map[string]any)
	}

	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Type:       taskType,
		Status:     TaskStatusPending,
		Parameters: parameters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Validate returns the first problem found with the task, or nil.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("models: task ID is required")
	}
	if t.AgentID == "" {
		return errors.New("models: task agent ID is required")
	}
	if t.Type == "" {
		return errors.New("models: task type is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("models: invalid task status %q", t.Status)
	}
	if t.CreatedAt.IsZero() || t.UpdatedAt.IsZero() {
		return errors.New("models: task timestamps are required")
	}
	if t.StartedAt == nil && t.Status == TaskStatusRunning {
		return errors.New("models: running task has no start time")
	}
	if t.CompletedAt != nil && t.StartedAt != nil && t.CompletedAt.Before(*t.StartedAt) {
		return errors.New("models: task completed before it started")
	}
	return nil
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Start marks a pending task as running.
func (t *Task) Start() error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("models: cannot start task in status %q", t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

// Finish moves a running task to a terminal status. Pending tasks may only
// be cancelled. errMsg is recorded for failed and timed-out tasks.
func (t *Task) Finish(status TaskStatus, result map[string]any, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("models: %q is not a terminal task status", status)
	}
	switch t.Status {
	case TaskStatusRunning:
	case TaskStatusPending:
		if status != TaskStatusCancelled {
			return fmt.Errorf("models: pending task can only be cancelled, not %q", status)
		}
	default:
		return fmt.Errorf("models: task already finished with status %q", t.Status)
	}

	now := time.Now().UTC()
	t.Status = status
	t.Result = result
	if status == TaskStatusFailed || status == TaskStatusTimeout {
		t.Error = errMsg
	}
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

// Duration returns how long the task has run. Unstarted tasks report zero;
// running tasks report time elapsed so far.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(*t.StartedAt)
	}
	return time.Since(*t.StartedAt)
}
