package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/hyperagent/eventlog"
	"github.com/GoCodeAlone/hyperagent/task"
)

// DefaultHeartbeatInterval is the spacing between progress heartbeats when
// the runtime config does not override it.
const DefaultHeartbeatInterval = 15 * time.Second

// Runtime drives one worker's claim/execute/report lifecycle against the
// task store and the event log. It holds no durable state of its own.
type Runtime struct {
	id       string
	tasks    task.Store
	events   *eventlog.Log
	logger   *slog.Logger
	interval time.Duration

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// NewRuntime creates a runtime for the worker identified by id.
func NewRuntime(id string, tasks task.Store, events *eventlog.Log, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		id:       id,
		tasks:    tasks,
		events:   events,
		logger:   logger,
		interval: DefaultHeartbeatInterval,
	}
}

// SetHeartbeatInterval overrides the heartbeat spacing.
func (r *Runtime) SetHeartbeatInterval(d time.Duration) { r.interval = d }

// ID returns the worker identifier used as task owner on claims.
func (r *Runtime) ID() string { return r.id }

// PollAndRun claims the next eligible task for a and executes it. With no
// claimable task it returns (nil, nil) without side effects.
//
// A successful Handle records an AGENT_RESULT event and completes the task.
// An *Error from Handle records the failure on the task and in the log and
// returns (nil, nil): domain failures are outcomes, not crashes. Storage
// failures and policy violations propagate.
func (r *Runtime) PollAndRun(ctx context.Context, a Agent) (*Result, error) {
	claimed, err := r.tasks.ClaimNext(a.Type(), r.id)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, nil
	}

	r.logger.Info("task claimed",
		"agent", r.id, "task", claimed.ID, "type", claimed.Type, "attempt", claimed.Attempt)

	if hook, ok := a.(Assignee); ok {
		hook.OnAssign(ctx, claimed, r)
	}
	if hook, ok := a.(Progressor); ok {
		hook.OnProgress(ctx, claimed, r)
	}

	res, err := a.Handle(ctx, claimed, r)
	if err != nil {
		var agentErr *Error
		if !errors.As(err, &agentErr) {
			agentErr = &Error{TaskID: claimed.ID, Reason: err.Error()}
		}
		if hook, ok := a.(Failer); ok {
			hook.OnError(ctx, claimed, agentErr, r)
		}
		if failErr := r.FailTask(claimed, agentErr); failErr != nil {
			return nil, failErr
		}
		return nil, nil
	}

	if hook, ok := a.(Completer); ok {
		hook.OnComplete(ctx, claimed, res, r)
	}
	if err := r.CompleteTask(claimed, res); err != nil {
		return nil, err
	}
	return res, nil
}

// EmitProgress appends an AGENT_UPDATE event for the task's conversation and
// refreshes the worker's heartbeat. Extra fields are merged into the payload
// before the policy guard inspects it.
func (r *Runtime) EmitProgress(t *task.Task, message string, progress map[string]any, extra map[string]any) error {
	payload := map[string]any{
		"task_id":    t.ID,
		"agent_id":   r.id,
		"agent_type": t.Type,
		"message":    message,
	}
	if progress != nil {
		payload["progress"] = progress
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := r.enforcePolicy(payload); err != nil {
		return err
	}
	if err := r.appendEvent(t, eventlog.TypeAgentUpdate, payload); err != nil {
		return err
	}
	r.markHeartbeat(time.Now())
	return nil
}

// markHeartbeat records the latest sign of life from the worker.
func (r *Runtime) markHeartbeat(now time.Time) {
	r.mu.Lock()
	r.lastHeartbeat = now
	r.mu.Unlock()
}

// CompleteTask records the result event and transitions the task to
// COMPLETED with the result attached to its outputs.
func (r *Runtime) CompleteTask(t *task.Task, res *Result) error {
	payload := map[string]any{
		"task_id":      res.TaskID,
		"agent_id":     r.id,
		"agent_type":   t.Type,
		"outcome":      res.Outcome,
		"artifacts":    res.Artifacts,
		"notes":        res.Notes,
		"next_actions": res.NextActions,
	}
	if err := r.enforcePolicy(payload); err != nil {
		return err
	}
	if err := r.appendEvent(t, eventlog.TypeAgentResult, payload); err != nil {
		return err
	}
	status := task.StatusCompleted
	_, err := r.tasks.Update(t.ID, task.Patch{
		Status:  &status,
		Outputs: map[string]any{"result": payload},
	})
	return err
}

// FailTask records the failure event and transitions the task to FAILED with
// the error attached to its outputs.
func (r *Runtime) FailTask(t *task.Task, agentErr *Error) error {
	if agentErr.TaskID == "" {
		agentErr.TaskID = t.ID
	}
	payload := map[string]any{
		"task_id":    agentErr.TaskID,
		"agent_id":   r.id,
		"agent_type": t.Type,
		"outcome":    "failed",
		"error":      agentErr.Payload(),
	}
	if err := r.enforcePolicy(payload); err != nil {
		return err
	}
	if err := r.appendEvent(t, eventlog.TypeAgentResult, payload); err != nil {
		return err
	}
	r.logger.Warn("task failed",
		"agent", r.id, "task", t.ID, "reason", agentErr.Reason, "retryable", agentErr.Retryable)

	status := task.StatusFailed
	_, err := r.tasks.Update(t.ID, task.Patch{
		Status:  &status,
		Outputs: map[string]any{"error": agentErr.Payload()},
	})
	return err
}

// HeartbeatDue reports whether a heartbeat should be emitted at now. An
// unset last heartbeat is always due.
func (r *Runtime) HeartbeatDue(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(r.lastHeartbeat) >= r.interval
}

// LastHeartbeat returns the time of the most recent progress emission.
func (r *Runtime) LastHeartbeat() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHeartbeat
}

// enforcePolicy rejects payloads that claim direct user visibility. Agent
// events are internal-only by construction; only the narration path may
// produce user-facing content. The violating payload is rejected outright;
// stripping the flag would hide a programming error.
func (r *Runtime) enforcePolicy(payload map[string]any) error {
	if truthy(payload["render_to_user"]) {
		return &PolicyViolationError{
			Reason: "agent events cannot add user-visible output; narrator only",
		}
	}
	return nil
}

func (r *Runtime) appendEvent(t *task.Task, eventType string, payload map[string]any) error {
	_, err := r.events.Append(eventlog.Event{
		ConversationID: t.ConversationID(),
		Type:           eventType,
		Payload:        payload,
		Visibility:     eventlog.VisibilityInternal,
	})
	return err
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case nil:
		return false
	default:
		return true
	}
}
