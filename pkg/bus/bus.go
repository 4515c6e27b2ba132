package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/observability"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// DefaultCapacity is the default bound on a role's inbox (spec.md §4.3).
const DefaultCapacity = 64

// pendingRequest is the completion handle a Request call waits on,
// correlated to the eventual response by message id.
type pendingRequest struct {
	recipient role.Role
	done      chan *Message
	errCh     chan error
}

// Bus implements the Message Bus contract of spec.md §4.3: per-role
// priority inboxes shared by a worker pool, plus a synchronous-looking
// Request/Reply/Cancel surface built on top of them.
type Bus struct {
	metrics *observability.Metrics

	mu      sync.RWMutex
	inboxes map[role.Role]*inbox

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest
}

// New creates a Bus. A nil metrics is fine; Bus skips recording.
func New(metrics *observability.Metrics) *Bus {
	return &Bus{
		metrics: metrics,
		inboxes: make(map[role.Role]*inbox),
		pending: make(map[string]*pendingRequest),
	}
}

// RegisterRole creates r's inbox with the default capacity if it doesn't
// already exist. Every worker for a role calls this before Receive.
func (b *Bus) RegisterRole(r role.Role) {
	b.RegisterRoleWithCapacity(r, DefaultCapacity)
}

func (b *Bus) RegisterRoleWithCapacity(r role.Role, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[r]; !ok {
		b.inboxes[r] = newInbox(capacity)
	}
}

func (b *Bus) inboxFor(r role.Role) *inbox {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.inboxes[r]
}

// Receive blocks until a message is available for r or ctx is done; a
// closed inbox does not end the wait. Multiple workers of the same role pool call this
// concurrently; whichever is waiting picks up the next item, which
// load-balances the pool without any worker-identity bookkeeping.
func (b *Bus) Receive(ctx context.Context, r role.Role) (*Message, error) {
	ib := b.inboxFor(r)
	if ib == nil {
		return nil, &Error{Kind: ErrUnknownRole, Role: r}
	}
	for {
		if msg, ok := ib.pop(); ok {
			return msg, nil
		}
		select {
		case <-ib.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Send routes msg to its recipient's inbox. When the inbox is full, Send
// applies backpressure: with msg.Timeout == 0 it fails immediately
// (testable property 9); otherwise it waits up to Timeout for room.
func (b *Bus) Send(msg *Message) error {
	ib := b.inboxFor(msg.Recipient)
	if ib == nil {
		return &Error{Kind: ErrUnknownRole, Role: msg.Recipient}
	}

	if ib.tryPush(msg) {
		b.recordSent(msg)
		return nil
	}
	if msg.Timeout <= 0 {
		b.recordDropped(msg, ErrBackpressureTimeout)
		return &Error{Kind: ErrBackpressureTimeout, Role: msg.Recipient}
	}

	timer := time.NewTimer(msg.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ib.notify:
			if ib.tryPush(msg) {
				b.recordSent(msg)
				return nil
			}
		case <-timer.C:
			b.recordDropped(msg, ErrBackpressureTimeout)
			return &Error{Kind: ErrBackpressureTimeout, Role: msg.Recipient}
		}
	}
}

func (b *Bus) recordSent(msg *Message) {
	if b.metrics == nil {
		return
	}
	b.metrics.BusMessagesSent.WithLabelValues(string(msg.Recipient), priorityLabel(msg.Priority)).Inc()
	b.metrics.BusInboxDepth.WithLabelValues(string(msg.Recipient)).Set(float64(b.inboxFor(msg.Recipient).depth()))
}

func (b *Bus) recordDropped(msg *Message, reason ErrorKind) {
	if b.metrics == nil {
		return
	}
	b.metrics.BusMessagesDropped.WithLabelValues(string(msg.Recipient), string(reason)).Inc()
}

func priorityLabel(p Priority) string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	default:
		return "low"
	}
}

// Request sends a request to recipient and blocks until a correlated
// response arrives, the bus reports the worker failed, ctx is cancelled,
// or timeout elapses.
func (b *Bus) Request(ctx context.Context, sender, recipient role.Role, payload map[string]any, priority Priority, timeout time.Duration) (*Message, error) {
	msg := NewMessage(KindRequest, sender, recipient, payload, priority)
	msg.Timeout = timeout
	msg.Ctx = ctx

	done := make(chan *Message, 1)
	errCh := make(chan error, 1)
	b.registerPending(msg.ID, recipient, done, errCh)
	defer b.clearPending(msg.ID)

	if err := b.Send(msg); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case resp := <-done:
		return resp, nil
	case err := <-errCh:
		return nil, err
	case <-waitCtx.Done():
		b.Cancel(msg.ID)
		return nil, &Error{Kind: ErrCancelled, Role: recipient, Err: waitCtx.Err()}
	}
}

func (b *Bus) registerPending(id string, recipient role.Role, done chan *Message, errCh chan error) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	b.pending[id] = &pendingRequest{recipient: recipient, done: done, errCh: errCh}
}

func (b *Bus) clearPending(id string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	delete(b.pending, id)
}

func (b *Bus) takePending(id string) *pendingRequest {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return p
}

// Reply resolves the pending request identified by msg.ReplyTo with msg.
// A reply for a request that's already resolved (cancelled, timed out) is
// silently dropped.
func (b *Bus) Reply(msg *Message) error {
	if msg.ReplyTo == "" {
		return fmt.Errorf("bus: reply message missing ReplyTo")
	}
	p := b.takePending(msg.ReplyTo)
	if p == nil {
		return nil
	}
	select {
	case p.done <- msg:
	default:
	}
	return nil
}

// Cancel resolves requestID's pending request with a cancelled error and
// best-effort notifies the recipient role. The actual in-flight task abort
// travels separately, through the cancelled Message.Ctx the worker is
// already running with (see agentrt.Worker.handleRequest) — the KindCancel
// message here is a secondary nudge for a request still sitting unclaimed
// in the recipient's inbox. Cancelling an already-resolved request is a
// no-op.
func (b *Bus) Cancel(requestID string) error {
	p := b.takePending(requestID)
	if p == nil {
		return nil
	}
	cancelMsg := NewMessage(KindCancel, "", p.recipient, nil, Critical)
	cancelMsg.ReplyTo = requestID
	_ = b.Send(cancelMsg)

	select {
	case p.errCh <- &Error{Kind: ErrCancelled, Role: p.recipient}:
	default:
	}
	return nil
}

// Fail resolves requestID's pending request with BusError.workerFailed,
// called by the Agent Runtime when a worker panics mid-task.
func (b *Bus) Fail(requestID string, cause error) {
	p := b.takePending(requestID)
	if p == nil {
		return
	}
	select {
	case p.errCh <- &Error{Kind: ErrWorkerFailed, Role: p.recipient, Err: cause}:
	default:
	}
}
