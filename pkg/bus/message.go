// Package bus implements typed request/response routing between agent
// workers over bounded, per-role priority queues, correlating responses to
// requests by message id the way a single synchronous call would, but
// without blocking any other worker's progress.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// Kind classifies a Message.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindError    Kind = "error"
	KindCancel   Kind = "cancel"
	KindStatus   Kind = "status"
)

// Priority orders delivery within one role's inbox: critical > high >
// normal > low, FIFO within a priority band.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// Message is the unit of inter-agent communication (spec.md §3). Once
// created it is never mutated; a reply references the original via ReplyTo.
type Message struct {
	ID        string
	Kind      Kind
	Sender    role.Role
	Recipient role.Role
	Payload   map[string]any
	Priority  Priority
	CreatedAt time.Time
	ReplyTo   string
	Timeout   time.Duration

	// Ctx is the caller's context for a KindRequest message, carried
	// alongside the payload so the worker that ends up handling it derives
	// its task context from the same cancellation source as the requester
	// (the Session Controller's per-session context) rather than from the
	// worker pool's own long-lived context. Nil for messages not built by
	// Bus.Request (replies, status, cancel notices).
	Ctx context.Context
}

// NewMessage stamps an id and creation time for a freshly built message.
func NewMessage(kind Kind, sender, recipient role.Role, payload map[string]any, priority Priority) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Sender:    sender,
		Recipient: recipient,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}
