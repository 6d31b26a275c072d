package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BackendUnavailableError reports that a chat-completion call to a model
// backend could not complete: connection failure, non-2xx status, or an
// unusable response body. It is never retried; callers decide whether the
// run aborts.
type BackendUnavailableError struct {
	Model string
	Err   error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable for model %s: %v", e.Model, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// ChatClient sends role-tagged messages to a named model on an
// Ollama-compatible chat-completions endpoint and returns the reply text.
type ChatClient struct {
	baseURL    string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
}

// NewChatClient creates a client for the given endpoint. The underlying
// HTTP client carries no timeout: local inference can be arbitrarily slow
// and callers are allowed to wait indefinitely.
func NewChatClient(baseURL, apiKey string, maxTokens int) *ChatClient {
	return &ChatClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxTokens:  maxTokens,
		httpClient: &http.Client{},
	}
}

// Send posts the messages to the named model and returns the trimmed text
// of the first completion choice. When jsonFormat is set the backend is
// asked to constrain its output to JSON; that is a hint, not a guarantee.
func (c *ChatClient) Send(ctx context.Context, model string, messages []ChatMessage, temperature float64, jsonFormat bool) (string, error) {
	payload := ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	}
	if jsonFormat {
		payload.Format = "json"
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &BackendUnavailableError{Model: model, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &BackendUnavailableError{
			Model: model,
			Err:   fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendUnavailableError{Model: model, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var apiResponse ChatAPIResponse
	if err := json.Unmarshal(bodyBytes, &apiResponse); err != nil {
		return "", &BackendUnavailableError{Model: model, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(apiResponse.Choices) == 0 {
		return "", &BackendUnavailableError{Model: model, Err: fmt.Errorf("no choices in response")}
	}

	return strings.TrimSpace(apiResponse.Choices[0].Message.Content), nil
}
