package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

func TestSendReceivePriorityOrdering(t *testing.T) {
	b := New(nil)
	b.RegisterRole(role.Builder)

	low := NewMessage(KindRequest, role.Concept, role.Builder, nil, Low)
	high := NewMessage(KindRequest, role.Concept, role.Builder, nil, High)
	critical := NewMessage(KindRequest, role.Concept, role.Builder, nil, Critical)

	for _, m := range []*Message{low, high, critical} {
		if err := b.Send(m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	ctx := context.Background()
	first, err := b.Receive(ctx, role.Builder)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if first.ID != critical.ID {
		t.Errorf("expected critical first, got priority %v", first.Priority)
	}

	second, _ := b.Receive(ctx, role.Builder)
	if second.ID != high.ID {
		t.Errorf("expected high second, got priority %v", second.Priority)
	}

	third, _ := b.Receive(ctx, role.Builder)
	if third.ID != low.ID {
		t.Errorf("expected low third, got priority %v", third.Priority)
	}
}

func TestSendBackpressureTimeoutImmediate(t *testing.T) {
	b := New(nil)
	b.RegisterRoleWithCapacity(role.Builder, 1)

	filler := NewMessage(KindRequest, role.Concept, role.Builder, nil, Normal)
	if err := b.Send(filler); err != nil {
		t.Fatalf("Send filler: %v", err)
	}

	overflow := NewMessage(KindRequest, role.Concept, role.Builder, nil, Normal)
	overflow.Timeout = 0

	start := time.Now()
	err := b.Send(overflow)
	elapsed := time.Since(start)

	var busErr *Error
	if !errors.As(err, &busErr) || busErr.Kind != ErrBackpressureTimeout {
		t.Fatalf("expected backpressure_timeout, got %v", err)
	}
	if elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate failure, took %v", elapsed)
	}
}

func TestRequestReplyCorrelation(t *testing.T) {
	b := New(nil)
	b.RegisterRole(role.Builder)

	go func() {
		msg, err := b.Receive(context.Background(), role.Builder)
		if err != nil {
			t.Errorf("worker Receive: %v", err)
			return
		}
		resp := NewMessage(KindResponse, msg.Recipient, msg.Sender, map[string]any{"ok": true}, Normal)
		resp.ReplyTo = msg.ID
		if err := b.Reply(resp); err != nil {
			t.Errorf("Reply: %v", err)
		}
	}()

	resp, err := b.Request(context.Background(), role.Concept, role.Builder, nil, Normal, 2*time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Sender != role.Builder {
		t.Errorf("resp.Sender = %v, want builder", resp.Sender)
	}
}

func TestCancelIdempotent(t *testing.T) {
	b := New(nil)
	b.RegisterRole(role.Builder)

	done := make(chan *Message, 1)
	errCh := make(chan error, 1)
	b.registerPending("req-1", role.Builder, done, errCh)

	if err := b.Cancel("req-1"); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	select {
	case err := <-errCh:
		var busErr *Error
		if !errors.As(err, &busErr) || busErr.Kind != ErrCancelled {
			t.Errorf("expected cancelled error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}

	// Second cancel of the same (already-resolved) id is a no-op.
	if err := b.Cancel("req-1"); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestRequestTimeoutYieldsCancelled(t *testing.T) {
	b := New(nil)
	b.RegisterRole(role.Builder)

	_, err := b.Request(context.Background(), role.Concept, role.Builder, nil, Normal, 20*time.Millisecond)
	var busErr *Error
	if !errors.As(err, &busErr) || busErr.Kind != ErrCancelled {
		t.Fatalf("expected cancelled on timeout, got %v", err)
	}
}
