// Package eventlog provides the append-only, per-conversation event journal.
//
// Every fact the system records lands here. Events are immutable after
// append: the journal is
// the audit trail the controller reads and the one source of truth for what
// happened in a conversation.
package eventlog

import "time"

// Visibility classifies who an event is intended for.
const (
	VisibilityInternal = "internal"
	VisibilityUser     = "user"
	VisibilitySystem   = "system"
)

// Well-known event types. Type is a free-form tag; these are the ones the
// runtime and controller produce themselves.
const (
	TypeAgentUpdate         = "AGENT_UPDATE"
	TypeAgentResult         = "AGENT_RESULT"
	TypeError               = "ERROR"
	TypeNarration           = "NARRATION"
	TypeNarrationSuppressed = "NARRATION_SUPPRESSED"
	TypeSummaryRefresh      = "SUMMARY_REFRESH"
	TypeUserMessage         = "USER_MESSAGE"
)

// Event is an immutable fact appended to a conversation's journal.
type Event struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           string    `json:"type"`
	Payload        any       `json:"payload,omitempty"`
	Visibility     string    `json:"visibility"`
	Timestamp      time.Time `json:"timestamp"`
}
