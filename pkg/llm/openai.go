package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxelcrew/voxelcrew/internal/httpclient"
)

// DefaultTimeout bounds a single HTTP round trip to the provider,
// independent of the per-task deadline the Agent Runtime already applies
// via ctx.
const DefaultTimeout = 90 * time.Second

// HTTPClient is a Completion implementation against an OpenAI- or
// Anthropic-compatible chat completions endpoint. It is the core's one
// concrete LLM provider client; rate-limit headers are normalized with
// internal/httpclient's parsers into a *RetryableError the Agent Runtime's
// backoff loop recognizes.
type HTTPClient struct {
	BaseURL  string
	APIKey   string
	Model    string
	Provider string // "openai" (default) or "anthropic"
	HTTP     *http.Client
}

// NewHTTPClient builds a client with DefaultTimeout if c.HTTP is unset.
func NewHTTPClient(baseURL, apiKey, model, provider string) *HTTPClient {
	if provider == "" {
		provider = "openai"
	}
	return &HTTPClient{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Model:    model,
		Provider: provider,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Completion implements Client.
func (c *HTTPClient) Completion(ctx context.Context, systemPrompt, userPrompt string, history []Message) (Result, error) {
	messages := make([]chatMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return Result{}, fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Provider == "anthropic" {
		req.Header.Set("x-api-key", c.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var info httpclient.RateLimitInfo
		if c.Provider == "anthropic" {
			info = httpclient.ParseAnthropicRateLimitHeaders(resp.Header)
		} else {
			info = httpclient.ParseOpenAIRateLimitHeaders(resp.Header)
		}
		return Result{}, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RetryAfter: info.RetryAfter,
		}
	}
	if resp.StatusCode >= 500 {
		return Result{}, &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("llm: provider returned %d: %s", resp.StatusCode, respBody)
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("llm: provider returned no choices")
	}

	return Result{
		Text: decoded.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
		},
	}, nil
}

var _ Client = (*HTTPClient)(nil)
