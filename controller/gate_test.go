package controller

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/hyperagent/eventlog"
	"github.com/GoCodeAlone/hyperagent/task"
)

func newTestGate(t *testing.T, maxEvents int) (*Gate, *eventlog.Log, string) {
	t.Helper()
	dir := t.TempDir()
	log, err := eventlog.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("eventlog.New: %v", err)
	}
	summaryDir := filepath.Join(dir, "summaries")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGate(log, summaryDir, maxEvents, logger), log, summaryDir
}

func TestGate_Decide_Scenarios(t *testing.T) {
	g, _, _ := newTestGate(t, 0)

	quiet := []eventlog.Event{
		{Type: eventlog.TypeUserMessage, Payload: map[string]any{"text": "hi"}},
		{Type: eventlog.TypeAgentUpdate, Payload: map[string]any{"state": "working"}},
	}

	// Scenario A: no hints, only chatter.
	if d := g.Decide(nil, quiet); d.SpeakNow {
		t.Error("Decide(no hints, chatter) SpeakNow = true, want false")
	}

	// Scenario B: a must-speak hint wins regardless of events.
	if d := g.Decide([]string{"user_waiting"}, quiet); !d.SpeakNow {
		t.Error("Decide(user_waiting) SpeakNow = false, want true")
	}

	// Scenario C: a trigger event type in the recent window.
	withResult := append(quiet, eventlog.Event{
		Type: eventlog.TypeAgentResult, Payload: map[string]any{"summary": "done"},
	})
	if d := g.Decide(nil, withResult); !d.SpeakNow {
		t.Error("Decide(recent AGENT_RESULT) SpeakNow = false, want true")
	}

	// Unknown hints do not open the gate.
	if d := g.Decide([]string{"mild_curiosity"}, quiet); d.SpeakNow {
		t.Error("Decide(unknown hint) SpeakNow = true, want false")
	}
}

func TestGate_Decide_TriggerOutsideWindow(t *testing.T) {
	g, _, _ := newTestGate(t, 0)

	// An AGENT_RESULT followed by six quiet events: outside the 5-event window.
	events := []eventlog.Event{{Type: eventlog.TypeAgentResult}}
	for i := 0; i < 6; i++ {
		events = append(events, eventlog.Event{Type: eventlog.TypeAgentUpdate})
	}
	if d := g.Decide(nil, events); d.SpeakNow {
		t.Error("trigger event outside the last 5 opened the gate")
	}
}

func TestGate_Decide_ActionsCarryContext(t *testing.T) {
	g, _, _ := newTestGate(t, 0)

	events := []eventlog.Event{
		{Type: "A"}, {Type: "B"}, {Type: "C"}, {Type: "D"},
	}
	d := g.Decide([]string{"user_waiting"}, events)
	if len(d.Actions) != 1 {
		t.Fatalf("Actions len = %d, want 1", len(d.Actions))
	}
	recent, ok := d.Actions[0]["recent_event_types"].([]string)
	if !ok {
		t.Fatalf("recent_event_types missing: %v", d.Actions[0])
	}
	if len(recent) != 3 || recent[0] != "B" || recent[2] != "D" {
		t.Errorf("recent_event_types = %v, want [B C D]", recent)
	}
}

func TestGate_IdleWatchdogDue(t *testing.T) {
	g, _, _ := newTestGate(t, 0)
	base := time.Unix(0, 0)

	if !g.IdleWatchdogDue(base, base.Add(16*time.Second), 15*time.Second) {
		t.Error("watchdog not due after 16s with 15s interval")
	}
	if g.IdleWatchdogDue(base.Add(10*time.Second), base.Add(20*time.Second), 15*time.Second) {
		t.Error("watchdog due after 10s with 15s interval")
	}
}

func TestGate_BuildContextWindow_Budget(t *testing.T) {
	g, log, summaryDir := newTestGate(t, 30)

	events := make([]eventlog.Event, 40)
	for i := range events {
		events[i] = eventlog.Event{
			Type:    "TASK_STATUS",
			Payload: map[string]any{"message": fmt.Sprintf("#%d", i)},
		}
	}

	text, err := g.BuildContextWindow("conv-1", events)
	if err != nil {
		t.Fatalf("BuildContextWindow: %v", err)
	}
	if got := strings.Count(text, "[TASK_STATUS]"); got != 30 {
		t.Errorf("rendered %d verbatim events, want 30", got)
	}
	// The verbatim window is the suffix: #10 survives, #9 is compacted.
	if !strings.Contains(text, "#10") || strings.Contains(text, `"#9"`) {
		t.Error("context window kept the wrong slice of events")
	}
	if !strings.Contains(text, "### Summaries") {
		t.Error("context window missing summary pointer")
	}

	if _, err := os.Stat(filepath.Join(summaryDir, "conv-1.md")); err != nil {
		t.Errorf("summary artifact not persisted: %v", err)
	}

	entries, err := log.Tail("conv-1", 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	refreshes := 0
	for _, ev := range entries {
		if ev.Type == eventlog.TypeSummaryRefresh {
			refreshes++
		}
	}
	if refreshes != 1 {
		t.Errorf("appended %d SUMMARY_REFRESH events, want exactly 1", refreshes)
	}
}

func TestGate_BuildContextWindow_NoOverflow(t *testing.T) {
	g, log, summaryDir := newTestGate(t, 30)

	events := []eventlog.Event{
		{Type: eventlog.TypeAgentUpdate, Payload: "hello"},
		{Type: eventlog.TypeAgentResult},
	}
	text, err := g.BuildContextWindow("conv-2", events)
	if err != nil {
		t.Fatalf("BuildContextWindow: %v", err)
	}
	if !strings.Contains(text, "- [AGENT_UPDATE] hello") {
		t.Errorf("missing verbatim line:\n%s", text)
	}
	if !strings.Contains(text, "(no payload)") {
		t.Errorf("nil payload not rendered:\n%s", text)
	}
	if strings.Contains(text, "### Summaries") {
		t.Error("summary pointer present without overflow")
	}
	if _, err := os.Stat(filepath.Join(summaryDir, "conv-2.md")); !os.IsNotExist(err) {
		t.Error("summary artifact written without overflow")
	}
	entries, err := log.Tail("conv-2", 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("appended %d events without overflow, want 0", len(entries))
	}
}

func TestGate_RenderNarration_Gate(t *testing.T) {
	g, log, _ := newTestGate(t, 0)
	actions := []map[string]any{{"thought": "waiting"}}

	// Suppressed: nothing rendered, suppression logged.
	text, err := g.RenderNarration(actions, "context", false, "conv-3")
	if err != nil {
		t.Fatalf("RenderNarration: %v", err)
	}
	if text != "" {
		t.Errorf("suppressed narration returned %q, want empty", text)
	}
	entries, err := log.Tail("conv-3", 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != eventlog.TypeNarrationSuppressed {
		t.Fatalf("journal = %v, want one NARRATION_SUPPRESSED event", entries)
	}

	// Allowed: prompt carries context and actions.
	text, err = g.RenderNarration([]map[string]any{{"thought": "done"}}, "context", true, "conv-3")
	if err != nil {
		t.Fatalf("RenderNarration: %v", err)
	}
	if !strings.Contains(text, "context") {
		t.Error("narration prompt missing context")
	}
	if !strings.Contains(text, "done") {
		t.Error("narration prompt missing actions")
	}
}

func TestGate_BuildControllerPrompt(t *testing.T) {
	g, _, _ := newTestGate(t, 30)

	events := []eventlog.Event{{Type: eventlog.TypeAgentUpdate, Payload: "progress"}}
	prompt, err := g.BuildControllerPrompt("conv-4", events, "- task-1 [PENDING] coder", "", []string{"user_waiting"})
	if err != nil {
		t.Fatalf("BuildControllerPrompt: %v", err)
	}
	for _, want := range []string{"task-1", "progress", "user_waiting", "speak_now"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("controller prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "{{") {
		t.Errorf("controller prompt has unsubstituted placeholders:\n%s", prompt)
	}
}

func TestTaskDigest(t *testing.T) {
	digest := TaskDigest([]*task.Task{
		{ID: "task-1", Type: "coder", Status: task.StatusInProgress, Owner: "coder-1"},
		{ID: "task-2", Type: "reviewer", Status: task.StatusPending},
	})
	if !strings.Contains(digest, "task-1 [IN_PROGRESS] coder owner=coder-1") {
		t.Errorf("digest missing owned task line:\n%s", digest)
	}
	if !strings.Contains(digest, "task-2 [PENDING] reviewer") {
		t.Errorf("digest missing pending task line:\n%s", digest)
	}
}
