package coredata

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle state of an asynchronous Task, per spec.md §3.
type TaskState string

const (
	TaskQueued        TaskState = "queued"
	TaskRunning       TaskState = "running"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
	TaskAuthRequired  TaskState = "auth-required"
	TaskRejected      TaskState = "rejected"
)

// ValidTaskStates lists every valid task state.
var ValidTaskStates = []TaskState{
	TaskQueued,
	TaskRunning,
	TaskCompleted,
	TaskFailed,
	TaskCanceled,
	TaskAuthRequired,
	TaskRejected,
}

// taskTransitions is the valid-transition table from spec.md §4.11:
//
//	queued        -> running | canceled | rejected
//	running       -> completed | failed | canceled | auth-required
//	auth-required -> running | canceled
//	completed, failed, canceled, rejected are terminal (no outgoing edges)
var taskTransitions = map[TaskState][]TaskState{
	TaskQueued:       {TaskRunning, TaskCanceled, TaskRejected},
	TaskRunning:      {TaskCompleted, TaskFailed, TaskCanceled, TaskAuthRequired},
	TaskAuthRequired: {TaskRunning, TaskCanceled},
	TaskCompleted:    {},
	TaskFailed:       {},
	TaskCanceled:     {},
	TaskRejected:     {},
}

// CanTransition reports whether moving from `from` to `to` is a valid edge
// in the task state machine.
func CanTransition(from, to TaskState) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether a state has no outgoing transitions.
func IsTerminalState(s TaskState) bool {
	return len(taskTransitions[s]) == 0
}

// TaskStatus is the structured status sub-object reported on a Task, mirroring
// the task-protocol wire shape.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is one entry in a task's conversational history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is a named output attached to a completed task (e.g. a proof
// result or a payment requirement).
type Artifact struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Data        interface{} `json:"data"`
}

// Task is the server-side record of one asynchronous skill invocation,
// as described by spec.md §3/§4.3.
type Task struct {
	ID         string                 `json:"id"`
	ContextID  string                 `json:"context_id"`
	Kind       string                 `json:"kind"`
	Skill      string                 `json:"skill"`
	Params     map[string]interface{} `json:"params"`
	Status     TaskStatus             `json:"status"`
	History    []Message              `json:"history,omitempty"`
	Artifacts  []Artifact             `json:"artifacts,omitempty"`
	RetryCount int                    `json:"retry_count"`
	LastError  string                 `json:"last_error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// NewTask constructs a freshly queued task with Kind fixed to "task" per the
// task-protocol wire contract.
func NewTask(id, contextID, skill string, params map[string]interface{}, now time.Time) *Task {
	return &Task{
		ID:        id,
		ContextID: contextID,
		Kind:      "task",
		Skill:     skill,
		Params:    params,
		Status: TaskStatus{
			State:     TaskQueued,
			Timestamp: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks structural invariants of a Task.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.ContextID == "" {
		return fmt.Errorf("context_id is required")
	}
	if t.Skill == "" {
		return fmt.Errorf("skill is required")
	}

	validState := false
	for _, st := range ValidTaskStates {
		if t.Status.State == st {
			validState = true
			break
		}
	}
	if !validState {
		return fmt.Errorf("invalid status.state '%s' (valid: %v)", t.Status.State, ValidTaskStates)
	}

	if t.RetryCount < 0 {
		return fmt.Errorf("retry_count must be non-negative (got: %d)", t.RetryCount)
	}

	return nil
}

// Transition moves the task to `to`, recording the message and updating
// timestamps. It refuses invalid edges.
func (t *Task) Transition(to TaskState, message string, now time.Time) error {
	if !CanTransition(t.Status.State, to) {
		return fmt.Errorf("invalid transition %s -> %s", t.Status.State, to)
	}
	t.Status = TaskStatus{
		State:     to,
		Message:   message,
		Timestamp: now,
	}
	t.UpdatedAt = now
	return nil
}

// IsTerminal reports whether the task has reached a state with no further
// transitions.
func (t *Task) IsTerminal() bool {
	return IsTerminalState(t.Status.State)
}
