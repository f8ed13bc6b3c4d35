package agent

import (
	"context"
	"strings"

	"github.com/GoCodeAlone/hyperagent/persona"
	"github.com/GoCodeAlone/hyperagent/provider"
	"github.com/GoCodeAlone/hyperagent/task"
)

// LLMAgent executes tasks by prompting a generation backend with a persona's
// system prompt and the task input. The generated text becomes the result
// artifact; it never reaches the user directly, only through narration.
type LLMAgent struct {
	agentType string
	persona   persona.Persona
	backend   provider.Streamer
	maxTokens int
}

// NewLLMAgent creates an agent of agentType backed by the given persona and
// generation backend.
func NewLLMAgent(agentType string, p persona.Persona, backend provider.Streamer, maxTokens int) *LLMAgent {
	return &LLMAgent{agentType: agentType, persona: p, backend: backend, maxTokens: maxTokens}
}

// Type returns the task type this agent claims.
func (a *LLMAgent) Type() string { return a.agentType }

// Handle prompts the backend with the task input and collects the streamed
// output into a Result.
func (a *LLMAgent) Handle(ctx context.Context, t *task.Task, rt *Runtime) (*Result, error) {
	input := taskInput(t)
	if err := rt.EmitProgress(t, "generating", map[string]any{"persona": a.persona.ID}, nil); err != nil {
		return nil, err
	}

	prompt := provider.BuildPrompt(a.persona.SystemPrompt, a.persona.MarkdownContext, nil, input)
	fragments, err := a.backend.Stream(ctx, provider.Request{Prompt: prompt, MaxTokens: a.maxTokens})
	if err != nil {
		return nil, &Error{
			TaskID:    t.ID,
			Reason:    "generation backend unavailable: " + err.Error(),
			Retryable: true,
		}
	}

	var text strings.Builder
	for fragment := range fragments {
		if fragment.Err != nil {
			return nil, &Error{
				TaskID:    t.ID,
				Reason:    "generation failed: " + fragment.Err.Error(),
				Retryable: true,
			}
		}
		text.WriteString(fragment.Text)
	}

	return &Result{
		TaskID:  t.ID,
		Outcome: "success",
		Artifacts: []any{
			map[string]any{"type": "text", "value": strings.TrimSpace(text.String())},
		},
		Notes: "generated by " + a.persona.ID,
	}, nil
}

// taskInput extracts the textual work description from a task.
func taskInput(t *task.Task) string {
	for _, key := range []string{"input", "goal", "message"} {
		if v, ok := t.Inputs[key].(string); ok && v != "" {
			return v
		}
	}
	return t.Type
}
