package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCompleter calls a generic text-completion HTTP endpoint. It is
// provider-agnostic by design — LLM_ENDPOINT and LLM_API_KEY (§6) point it
// at whichever completion API a deployment has credentials for, rather than
// hardcoding one vendor's SDK the way the original hardcoded Gemini.
type HTTPCompleter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPCompleter(endpoint, apiKey string, timeout time.Duration) *HTTPCompleter {
	return &HTTPCompleter{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, fullPrompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Prompt: fullPrompt})
	if err != nil {
		return "", fmt.Errorf("intent: marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("intent: build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("intent: completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("intent: read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("intent: completion endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("intent: decode completion response: %w", err)
	}
	return out.Text, nil
}

// StubCompleter returns a canned response, for local development and tests
// that don't want a live LLM dependency.
type StubCompleter struct {
	Response string
	Err      error
}

func (s StubCompleter) Complete(ctx context.Context, fullPrompt string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}
