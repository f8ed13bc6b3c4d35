package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestBuildPrompt(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	prompt := BuildPrompt("You are Planner.", "## Notes\n- brief", history, "what next?")

	for _, want := range []string{
		"System:\nYou are Planner.",
		"Context:\n## Notes\n- brief",
		"USER: hello",
		"ASSISTANT: hi",
		"USER: what next?\nASSISTANT:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "ASSISTANT:") {
		t.Errorf("prompt should end with the assistant cue:\n%s", prompt)
	}
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	prompt := BuildPrompt("sys", "", nil, "go")
	if strings.Contains(prompt, "Context:") {
		t.Errorf("prompt should omit empty context:\n%s", prompt)
	}
	if strings.Contains(prompt, "Conversation History:") {
		t.Errorf("prompt should omit empty history:\n%s", prompt)
	}
}

func TestOllama_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s, want /api/generate", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || !req.Stream {
			t.Errorf("request = %+v, want streaming call for test-model", req)
		}
		if req.Options["num_predict"] != float64(64) {
			t.Errorf("num_predict = %v, want 64", req.Options["num_predict"])
		}

		for _, chunk := range []string{
			`{"response":"Hello","done":false}`,
			`{"response":" world","done":false}`,
			`{"response":"","done":true}`,
		} {
			fmt.Fprintln(w, chunk)
		}
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model")
	fragments, err := o.Stream(context.Background(), Request{Prompt: "hi", MaxTokens: 64})
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
	if text.String() != "Hello world" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello world")
	}
}

func TestOllama_StreamConsumerCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	o := NewOllama(srv.URL, "test-model")
	fragments, err := o.Stream(ctx, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	<-fragments
	cancel()

	// The channel is abandoned here; the producer must exit on its own
	// rather than block on a send nobody will receive.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("producer goroutine still running after cancel: %d goroutines, started with %d",
				runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOllama_StreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model")
	if _, err := o.Stream(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("Stream should fail on non-200 response")
	}
}

func TestOllama_StreamChunkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "test-model")
	fragments, err := o.Stream(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var last Fragment
	for fragment := range fragments {
		last = fragment
	}
	if last.Err == nil || !strings.Contains(last.Err.Error(), "model not found") {
		t.Errorf("final fragment err = %v, want the server's error", last.Err)
	}
}
