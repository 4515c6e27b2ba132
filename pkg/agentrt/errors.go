package agentrt

import (
	"fmt"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// ErrorKind classifies an AgentError.
type ErrorKind string

const (
	// KindParse means parseResponse rejected the LLM's output.
	KindParse ErrorKind = "parse"
	// KindLLM means the Completion call failed after exhausting retries.
	KindLLM ErrorKind = "llm"
)

// AgentError is carried in a stage's response payload; it never bubbles
// as a panic across a worker boundary (spec.md §4.4, §7).
type AgentError struct {
	Kind ErrorKind
	Role role.Role
	Err  error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.Role, e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }
