package mock

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/GoCodeAlone/hyperagent/provider"
)

func collect(t *testing.T, m *Provider) string {
	t.Helper()
	fragments, err := m.Stream(context.Background(), provider.Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var text strings.Builder
	for fragment := range fragments {
		if fragment.Err != nil {
			t.Fatalf("fragment error: %v", fragment.Err)
		}
		text.WriteString(fragment.Text)
	}
	return text.String()
}

func TestProvider_CyclesResponses(t *testing.T) {
	m := New("first answer", "second answer")

	if got := collect(t, m); got != "first answer" {
		t.Errorf("first stream = %q", got)
	}
	if got := collect(t, m); got != "second answer" {
		t.Errorf("second stream = %q", got)
	}
	if got := collect(t, m); got != "first answer" {
		t.Errorf("third stream = %q, want cycle back to first", got)
	}
}

func TestProvider_ConcurrentStreams(t *testing.T) {
	m := New("alpha", "beta")

	const streams = 4
	var wg sync.WaitGroup
	results := make(chan string, streams)
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fragments, err := m.Stream(context.Background(), provider.Request{Prompt: "x"})
			if err != nil {
				t.Errorf("Stream: %v", err)
				return
			}
			var text strings.Builder
			for fragment := range fragments {
				text.WriteString(fragment.Text)
			}
			results <- text.String()
		}()
	}
	wg.Wait()
	close(results)

	counts := make(map[string]int)
	for got := range results {
		counts[got]++
	}
	// With two scripted responses and four streams, the cycle hands out each
	// response exactly twice.
	if counts["alpha"] != 2 || counts["beta"] != 2 {
		t.Errorf("response counts = %v, want alpha:2 beta:2", counts)
	}
}

func TestProvider_DefaultResponse(t *testing.T) {
	if got := collect(t, New()); got != defaultResponse {
		t.Errorf("stream = %q, want default response", got)
	}
}
