package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kubilitics/invcore/internal/errs"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
)

// HTTPLLMAdapter implements LLMAdapter against an OpenAI-compatible chat
// completions endpoint. It is deliberately narrower than a full vendor SDK:
// one prompt in, one response string out, matching the AgenticInvestigator's
// single-shot-per-iteration contract rather than a multi-turn chat client.
type HTTPLLMAdapter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPLLMAdapter builds an adapter against baseURL (an OpenAI-compatible
// "/chat/completions" endpoint). model defaults to defaultModel when empty.
func NewHTTPLLMAdapter(baseURL, apiKey, model string, timeout time.Duration) *HTTPLLMAdapter {
	if model == "" {
		model = defaultModel
	}
	return &HTTPLLMAdapter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends prompt (with schema appended as a system-level instruction)
// as a single-turn chat completion and returns the assistant's raw content.
func (c *HTTPLLMAdapter) Complete(ctx context.Context, prompt string, schema string) (string, error) {
	messages := []chatMessage{{Role: "user", Content: prompt}}
	if schema != "" {
		messages = append([]chatMessage{{Role: "system", Content: "Respond with JSON matching this schema:\n" + schema}}, messages...)
	}

	reqBody := chatRequest{Model: c.model, Messages: messages, MaxTokens: defaultMaxTokens, Temperature: 0.2}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", errs.ErrAdapterTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", errs.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d", errs.ErrLLMRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", errs.ErrAdapterUnavailable, resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrLLMMalformed, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrAdapterUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", errs.ErrLLMMalformed)
	}
	return parsed.Choices[0].Message.Content, nil
}
