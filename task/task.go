// Package task defines the task graph model and persistence for agent work items.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
// Transitions only move forward: PENDING -> IN_PROGRESS -> {COMPLETED, FAILED}.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ErrNotFound is returned when a task id is unknown to the store.
var ErrNotFound = errors.New("task not found")

// Task is a unit of work for an agent. Tasks are never physically deleted;
// archival of finished tasks is the caller's concern.
type Task struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"` // agent capability required to execute
	Status        Status         `json:"status"`
	Owner         string         `json:"owner,omitempty"` // claiming agent id while in progress
	Priority      int            `json:"priority"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Attempt       int            `json:"attempt"`
	ParentID      string         `json:"parent_id,omitempty"`
	DependencyIDs []string       `json:"dependency_ids,omitempty"` // advisory ordering, not enforced
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ConversationID resolves the conversation a task belongs to. Precedence:
// explicit metadata field, then explicit input field, then the task's own id
// as a private scope.
func (t *Task) ConversationID() string {
	if id, ok := t.Metadata["conversation_id"].(string); ok && id != "" {
		return id
	}
	if id, ok := t.Inputs["conversation_id"].(string); ok && id != "" {
		return id
	}
	return t.ID
}

// Patch describes a partial task mutation applied by Update. Nil fields are
// left untouched.
type Patch struct {
	Status  *Status
	Owner   *string
	Attempt *int
	Outputs map[string]any
	Context map[string]any
}

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update applies a patch to an existing task and returns the result.
	Update(id string, patch Patch) (*Task, error)

	// List returns tasks in creation order, optionally filtered by status.
	// No statuses means all tasks.
	List(statuses ...Status) ([]*Task, error)

	// ClaimNext atomically claims the oldest pending task of the given
	// type for ownerID, or returns (nil, nil) if none is eligible.
	ClaimNext(agentType, ownerID string) (*Task, error)
}
