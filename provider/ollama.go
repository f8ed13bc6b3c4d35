package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Ollama streams completions from an Ollama server's generate endpoint.
type Ollama struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewOllama creates a client for the given base URL and model.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{},
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Stream issues a streaming generate call and forwards each line-delimited
// JSON chunk's text as a fragment.
func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	body := ollamaRequest{
		Model:  o.Model,
		Prompt: req.Prompt,
		Stream: true,
	}
	opts := map[string]any{}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if len(opts) > 0 {
		body.Options = opts
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("generate request: unexpected status %s", resp.Status)
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				select {
				case out <- Fragment{Err: fmt.Errorf("decode generate chunk: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if chunk.Error != "" {
				select {
				case out <- Fragment{Err: fmt.Errorf("ollama error: %s", chunk.Error)}:
				case <-ctx.Done():
				}
				return
			}
			if chunk.Response != "" {
				select {
				case out <- Fragment{Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- Fragment{Err: fmt.Errorf("read generate stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
