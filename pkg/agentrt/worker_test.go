package agentrt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/bus"
	"github.com/voxelcrew/voxelcrew/pkg/llm"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

func echoAgent() Agent {
	return Agent{
		Role:         role.Builder,
		SystemPrompt: "system",
		Parse: func(raw string, _ map[string]any) (AgentResult, error) {
			return AgentResult{Fragment: raw}, nil
		},
	}
}

// TestHandleRequestAbortsOnSessionCancel is the mid-task-cancellation
// scenario: a request's Ctx (the Session Controller's per-session context)
// is cancelled while the LLM call is still in flight, and the worker must
// abort that call rather than let it run to completion.
func TestHandleRequestAbortsOnSessionCancel(t *testing.T) {
	client := &llm.MockClient{Block: true}

	b := bus.New(nil)
	b.RegisterRole(role.Builder)
	w := NewWorker(echoAgent(), b, client)

	sessionCtx, cancelSession := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancelSession()
	}()

	msg := bus.NewMessage(bus.KindRequest, role.Engine, role.Builder, map[string]any{"instructions": "draw a cube"}, bus.Normal)
	msg.Ctx = sessionCtx

	finished := make(chan struct{})
	go func() {
		w.handleRequest(context.Background(), msg)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handleRequest did not return after session cancellation")
	}

	snap := w.Stats.Snapshot()
	if snap.TasksFailed != 1 {
		t.Errorf("TasksFailed = %d, want 1", snap.TasksFailed)
	}
}

// TestHandleRequestRejectsAlreadyCancelledTask covers the inbox race: a
// request whose Ctx is already done by the time the worker picks it up
// must fail immediately without ever calling the LLM client.
func TestHandleRequestRejectsAlreadyCancelledTask(t *testing.T) {
	client := &llm.MockClient{
		Respond: func(string, string) (llm.Result, error) {
			t.Fatal("Completion must not be called for an already-cancelled task")
			return llm.Result{}, nil
		},
	}

	b := bus.New(nil)
	b.RegisterRole(role.Builder)
	w := NewWorker(echoAgent(), b, client)

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := bus.NewMessage(bus.KindRequest, role.Engine, role.Builder, map[string]any{"instructions": "draw a cube"}, bus.Normal)
	msg.Ctx = cancelledCtx

	w.handleRequest(context.Background(), msg)

	if w.Stats.Snapshot().TasksFailed != 1 {
		t.Errorf("expected the task to be recorded as failed")
	}
}

// TestCompleteWithBackoffHonorsContextDuringSleep ensures a context
// cancelled mid-backoff interrupts the retry sleep instead of running out
// the full attempt budget.
func TestCompleteWithBackoffHonorsContextDuringSleep(t *testing.T) {
	retryErr := &llm.RetryableError{RetryAfter: time.Hour}
	client := &llm.MockClient{
		Respond: func(string, string) (llm.Result, error) {
			return llm.Result{}, retryErr
		},
	}

	b := bus.New(nil)
	w := NewWorker(echoAgent(), b, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	msg := bus.NewMessage(bus.KindRequest, role.Engine, role.Builder, nil, bus.Normal)

	start := time.Now()
	_, _, err := w.completeWithBackoff(ctx, msg, "prompt")
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("completeWithBackoff took %v, want it to return promptly on ctx cancellation", elapsed)
	}
	if client.Calls != 1 {
		t.Errorf("Calls = %d, want exactly 1 attempt before the cancelled sleep", client.Calls)
	}
}
