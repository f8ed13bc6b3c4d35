// Package provider defines the generation backend interface for narration
// and agent text output.
package provider

import (
	"context"
	"strings"
)

// Request describes one generation call.
type Request struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Fragment is one element of a streamed generation. Err is set on the final
// fragment when generation aborts.
type Fragment struct {
	Text string
	Err  error
}

// Streamer produces a lazy sequence of text fragments for a prompt. The
// returned channel is closed when generation completes or fails.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Fragment, error)
}

// Turn is a single prior exchange in a conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildPrompt assembles a flat prompt from a system prompt, optional
// markdown context, prior history, and the current user message.
func BuildPrompt(systemPrompt, markdownContext string, history []Turn, userMessage string) string {
	var sections []string
	sections = append(sections, "System:\n"+strings.TrimSpace(systemPrompt))
	if ctx := strings.TrimSpace(markdownContext); ctx != "" {
		sections = append(sections, "Context:\n"+ctx)
	}
	if len(history) > 0 {
		var lines []string
		for _, turn := range history {
			lines = append(lines, strings.ToUpper(turn.Role)+": "+strings.TrimSpace(turn.Content))
		}
		sections = append(sections, "Conversation History:\n"+strings.Join(lines, "\n"))
	}
	sections = append(sections, "USER: "+strings.TrimSpace(userMessage)+"\nASSISTANT:")
	return strings.Join(sections, "\n\n")
}
