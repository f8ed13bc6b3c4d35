// Package controller implements the speak/no-speak gate between internal
// agent activity and user-facing narration.
//
// The gate reads the event journal, compacts overflow history through the
// rolling summarizer, and decides from attention hints and recent events
// whether a narration should surface now. It is the only component allowed
// to produce user-visible content.
package controller

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/hyperagent/eventlog"
	"github.com/GoCodeAlone/hyperagent/summary"
	"github.com/GoCodeAlone/hyperagent/task"
)

//go:embed prompts/controller.md prompts/narrator.md
var promptFS embed.FS

// DefaultMaxEvents is the verbatim event budget of a context window.
const DefaultMaxEvents = 30

// Hints that force narration regardless of recent event types.
var speakHints = map[string]bool{
	"user_waiting":   true,
	"task_completed": true,
	"agent_failed":   true,
}

// Event types among the last five that trigger narration on their own.
var triggerEventTypes = map[string]bool{
	eventlog.TypeError:       true,
	eventlog.TypeAgentResult: true,
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	SpeakNow bool             `json:"speak_now"`
	Actions  []map[string]any `json:"actions"`
	Notes    string           `json:"notes"`
}

// Gate evaluates conversations for narration. It holds no state beyond its
// configuration; everything durable lives in the event log and summary dir.
type Gate struct {
	maxEvents  int
	events     *eventlog.Log
	summaryDir string
	logger     *slog.Logger

	controllerTemplate string
	narratorTemplate   string
}

// NewGate creates a gate over the given event log, persisting summaries
// under summaryDir. maxEvents <= 0 selects DefaultMaxEvents.
func NewGate(events *eventlog.Log, summaryDir string, maxEvents int, logger *slog.Logger) *Gate {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	controllerTmpl, _ := promptFS.ReadFile("prompts/controller.md")
	narratorTmpl, _ := promptFS.ReadFile("prompts/narrator.md")
	return &Gate{
		maxEvents:          maxEvents,
		events:             events,
		summaryDir:         summaryDir,
		logger:             logger,
		controllerTemplate: string(controllerTmpl),
		narratorTemplate:   string(narratorTmpl),
	}
}

// BuildContextWindow renders the most recent maxEvents verbatim, one line
// per event. Older events are compacted: the overflow prefix is summarized,
// the artifact persisted, a SUMMARY_REFRESH event appended, and a pointer to
// the summary attached to the rendered text.
func (g *Gate) BuildContextWindow(conversationID string, events []eventlog.Event) (string, error) {
	kept := events
	var trimmed []eventlog.Event
	if len(events) > g.maxEvents {
		trimmed = events[:len(events)-g.maxEvents]
		kept = events[len(events)-g.maxEvents:]
	}

	var lines []string
	for _, ev := range kept {
		label := ev.Type
		if label == "" {
			label = "EVENT"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", label, renderPayload(ev.Payload)))
	}
	text := strings.Join(lines, "\n")

	if len(trimmed) > 0 {
		s := summary.Rolling(conversationID, trimmed)
		if _, err := summary.Persist(g.summaryDir, s); err != nil {
			return "", err
		}
		if _, err := g.events.Append(eventlog.Event{
			ConversationID: conversationID,
			Type:           eventlog.TypeSummaryRefresh,
			Payload:        map[string]any{"summary_ref": s.Ref},
			Visibility:     eventlog.VisibilityInternal,
		}); err != nil {
			return "", err
		}
		g.logger.Debug("summary refreshed",
			"conversation", conversationID, "ref", s.Ref, "compacted", len(trimmed))
		text += fmt.Sprintf("\n### Summaries\n- Ref %s (see summaries/%s.md)", s.Ref, conversationID)
	}
	return text, nil
}

// Decide evaluates the gate. speak_now is true when any hint is in the
// must-speak set, or failing that, when any of the last five events carries
// a trigger type. Most internal chatter passes neither check and stays
// silent.
func (g *Gate) Decide(hints []string, recent []eventlog.Event) Decision {
	speak := false
	for _, hint := range hints {
		if speakHints[hint] {
			speak = true
			break
		}
	}
	if !speak {
		window := recent
		if len(window) > 5 {
			window = window[len(window)-5:]
		}
		for i := len(window) - 1; i >= 0; i-- {
			if triggerEventTypes[window[i].Type] {
				speak = true
				break
			}
		}
	}

	lastTypes := []string{}
	start := len(recent) - 3
	if start < 0 {
		start = 0
	}
	for _, ev := range recent[start:] {
		lastTypes = append(lastTypes, ev.Type)
	}
	return Decision{
		SpeakNow: speak,
		Actions: []map[string]any{{
			"kind":               "reflect",
			"attention_hints":    hints,
			"recent_event_types": lastTypes,
		}},
		Notes: "auto-gated",
	}
}

// IdleWatchdogDue reports whether the gate should re-evaluate even without
// new events.
func (g *Gate) IdleWatchdogDue(lastDecision, now time.Time, interval time.Duration) bool {
	return now.Sub(lastDecision) >= interval
}

// RenderNarration produces the narration prompt for an external generation
// step. When speakNow is false it appends a NARRATION_SUPPRESSED event so
// the suppression stays auditable, and returns the empty string.
func (g *Gate) RenderNarration(actions []map[string]any, contextText string, speakNow bool, conversationID string) (string, error) {
	if !speakNow {
		_, err := g.events.Append(eventlog.Event{
			ConversationID: conversationID,
			Type:           eventlog.TypeNarrationSuppressed,
			Payload:        map[string]any{"reason": "speak_now=false", "actions": actions},
			Visibility:     eventlog.VisibilityInternal,
		})
		if err != nil {
			return "", err
		}
		return "", nil
	}

	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("marshal actions: %w", err)
	}
	narrationContext := strings.TrimSpace(contextText)
	if narrationContext == "" {
		narrationContext = "No recent context."
	}
	prompt := g.narratorTemplate
	prompt = strings.ReplaceAll(prompt, "{{NARRATION_CONTEXT}}", narrationContext)
	prompt = strings.ReplaceAll(prompt, "{{USER_CONTEXT}}", string(actionsJSON))
	prompt = strings.ReplaceAll(prompt, "{{SPEAK_INSTRUCTIONS}}",
		"Respond concisely and acknowledge prior context before sharing new insights.")
	return prompt, nil
}

// BuildControllerPrompt assembles the controller's own prompt from the task
// digest, prior summaries, and the conversation's context window.
func (g *Gate) BuildControllerPrompt(conversationID string, events []eventlog.Event, taskDigest, summaryText string, hints []string) (string, error) {
	globalState := strings.TrimSpace(taskDigest)
	if globalState == "" {
		globalState = "No active tasks."
	}
	if s := strings.TrimSpace(summaryText); s != "" {
		globalState += "\n\nSummaries:\n" + s
	}
	contextText, err := g.BuildContextWindow(conversationID, events)
	if err != nil {
		return "", err
	}

	prompt := g.controllerTemplate
	prompt = strings.ReplaceAll(prompt, "{{SYSTEM_POLICY}}",
		"You are the controller. Produce JSON actions that coordinate specialists while respecting safety, task graph ownership, and user intent.")
	prompt = strings.ReplaceAll(prompt, "{{GLOBAL_STATE}}", globalState)
	prompt = strings.ReplaceAll(prompt, "{{EVENT_FOCUS}}", contextText)
	prompt = strings.ReplaceAll(prompt, "{{ACTION_GUIDE}}",
		`Return JSON {"actions": [...], "speak_now": bool, "notes": string}. Include attention_hints you considered: `+strings.Join(hints, ", "))
	return prompt, nil
}

// TaskDigest renders a one-line-per-task overview for the controller's
// global state section.
func TaskDigest(tasks []*task.Task) string {
	var lines []string
	for _, t := range tasks {
		line := fmt.Sprintf("- %s [%s] %s", t.ID, t.Status, t.Type)
		if t.Owner != "" {
			line += " owner=" + t.Owner
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderPayload(payload any) string {
	switch p := payload.(type) {
	case nil:
		return "(no payload)"
	case string:
		return p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%v", p)
		}
		return string(b)
	}
}
