package httpclient

import "time"

// RateLimitInfo captures the rate-limit bookkeeping a provider reports on
// its HTTP responses, normalized across OpenAI- and Anthropic-style header
// sets by the Parse* functions in this package.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64 // Unix seconds
	RequestsRemaining     int
	TokensRemaining       int
	InputTokensRemaining  int
	OutputTokensRemaining int
}
