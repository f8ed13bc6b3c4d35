// Package mock provides a scripted generation backend for testing.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/GoCodeAlone/hyperagent/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// Provider implements provider.Streamer with scripted responses, streamed
// one word at a time. Safe for concurrent streams.
type Provider struct {
	mu        sync.Mutex
	responses []string
	idx       int
}

// New creates a Provider that cycles through the given responses.
func New(responses ...string) *Provider {
	return &Provider{responses: responses}
}

// Stream emits the next scripted response as word fragments.
func (m *Provider) Stream(ctx context.Context, _ provider.Request) (<-chan provider.Fragment, error) {
	m.mu.Lock()
	text := defaultResponse
	if len(m.responses) > 0 {
		text = m.responses[m.idx%len(m.responses)]
		m.idx++
	}
	m.mu.Unlock()

	out := make(chan provider.Fragment)
	go func() {
		defer close(out)
		for i, word := range strings.Fields(text) {
			if i > 0 {
				word = " " + word
			}
			select {
			case out <- provider.Fragment{Text: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
