// Package agent defines the agent capability contract and the runtime that
// drives a worker's claim/execute/report lifecycle.
package agent

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/hyperagent/task"
)

// Agent is the capability contract a worker executes. Handle returns either
// a Result or an *Error; any other error kind is treated as a non-retryable
// domain failure.
type Agent interface {
	// Type is the task type this agent can claim.
	Type() string

	// Handle executes the core task logic.
	Handle(ctx context.Context, t *task.Task, rt *Runtime) (*Result, error)
}

// Optional lifecycle hooks. Agents implement these to observe the lifecycle
// around Handle; none of them are required.
type (
	// Assignee is notified immediately after a claim succeeds.
	Assignee interface {
		OnAssign(ctx context.Context, t *task.Task, rt *Runtime)
	}

	// Progressor is notified after assignment, before Handle runs.
	Progressor interface {
		OnProgress(ctx context.Context, t *task.Task, rt *Runtime)
	}

	// Completer is notified after Handle returns a Result.
	Completer interface {
		OnComplete(ctx context.Context, t *task.Task, res *Result, rt *Runtime)
	}

	// Failer is notified when Handle returns an *Error.
	Failer interface {
		OnError(ctx context.Context, t *task.Task, agentErr *Error, rt *Runtime)
	}
)

// Result is the outcome of a successfully handled task.
type Result struct {
	TaskID      string           `json:"task_id"`
	Outcome     string           `json:"outcome"`
	Artifacts   []any            `json:"artifacts,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	NextActions []map[string]any `json:"next_actions,omitempty"`
}

// Error is a typed domain failure raised inside Handle. It is recorded on
// the task and in the event log, never propagated as a crash.
type Error struct {
	TaskID    string         `json:"task_id"`
	Reason    string         `json:"reason"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent error on task %s: %s", e.TaskID, e.Reason)
}

// Payload renders the error for task outputs and event payloads.
func (e *Error) Payload() map[string]any {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return map[string]any{
		"task_id":   e.TaskID,
		"reason":    e.Reason,
		"retryable": e.Retryable,
		"details":   details,
	}
}

// PolicyViolationError reports an agent attempting to produce user-visible
// output. It surfaces a programming bug, not a transient failure, and is
// never retryable.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return "policy violation: " + e.Reason
}
