// Package agentrt supplies the per-role message loop shared by every
// agent: receive a task, call the LLM capability with rate-limit backoff,
// hand the raw text to the role's parseResponse hook, and publish the
// result. Implementations only provide the system prompt and the hook;
// the runtime owns retries, stats, and never lets a failure kill the
// worker goroutine.
package agentrt

import (
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// ParseResponse turns raw LLM text plus the originating task payload into
// a structured AgentResult. A parse failure is surfaced as AgentError, not
// a panic.
type ParseResponse func(raw string, taskPayload map[string]any) (AgentResult, error)

// AgentResult is what one stage invocation of one agent produces
// (spec.md §3). It's owned by the requesting stage until merged into
// Shared Context.
type AgentResult struct {
	Role              role.Role
	Fragment          string
	Hints             map[string]any
	Err               error
	PromptTokens      int
	CompletionTokens  int
	WallTime          time.Duration
}

// Agent is the static definition a role registers with the runtime: its
// tag, the LLM system prompt body (supplied by the caller, never
// hard-coded here), and its parse hook.
type Agent struct {
	Role         role.Role
	SystemPrompt string
	Parse        ParseResponse
}
