// Package llm declares the single external capability the workflow engine
// consumes from a language model provider: the interface, the
// message/usage shapes, and the rate-limit error plumbing the Agent Runtime
// needs to recognize a retryable failure. It also carries one HTTP-backed
// client (openai.go) and an in-memory MockClient (mock.go).
package llm

import (
	"context"
	"errors"

	"github.com/voxelcrew/voxelcrew/internal/httpclient"
)

// Message is one turn of conversation history supplied to Completion.
type Message struct {
	Role    string
	Content string
}

// Usage reports token consumption for one Completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is what a Completion call returns on success.
type Result struct {
	Text  string
	Usage Usage
}

// Client is the sole capability the core requires of an LLM provider. It
// must be safe to call concurrently from many agent workers and must
// surface rate-limiting as a *RetryableError rather than silently blocking.
type Client interface {
	Completion(ctx context.Context, systemPrompt, userPrompt string, history []Message) (Result, error)
}

// RetryableError wraps a provider error that the caller may retry after a
// delay, grounded on internal/httpclient.RetryableError.
type RetryableError = httpclient.RetryableError

// RateLimitInfo is the normalized rate-limit bookkeeping extracted from a
// provider response.
type RateLimitInfo = httpclient.RateLimitInfo

// AsRetryable reports whether err (or something it wraps) is a
// *RetryableError, and returns it.
func AsRetryable(err error) (*RetryableError, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
