package agentrt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/bus"
	"github.com/voxelcrew/voxelcrew/pkg/llm"
	"github.com/voxelcrew/voxelcrew/pkg/observability"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 60 * time.Second
	maxAttempts    = 5
)

// Worker runs Agent's message loop against one Bus, pulling tasks from
// the role's inbox and calling client for each one. Multiple Workers for
// the same role form the pool the bus load-balances across.
type Worker struct {
	Agent   Agent
	Bus     *bus.Bus
	Client  llm.Client
	Metrics *observability.Metrics
	Logger  *slog.Logger

	Stats Stats
}

// NewWorker wires the minimum required collaborators; Metrics and Logger
// may be left nil.
func NewWorker(agent Agent, b *bus.Bus, client llm.Client) *Worker {
	return &Worker{Agent: agent, Bus: b, Client: client, Logger: slog.Default()}
}

// Run registers the worker's role on the bus and blocks processing
// messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.Bus.RegisterRole(w.Agent.Role)
	for {
		msg, err := w.Bus.Receive(ctx, w.Agent.Role)
		if err != nil {
			return
		}
		w.Stats.recordReceived()

		switch msg.Kind {
		case bus.KindRequest:
			w.handleRequest(ctx, msg)
		case bus.KindCancel:
			// The task this refers to derives its own context from
			// msg.Ctx on the original request, not from this loop's ctx,
			// so it aborts on its own the moment the session cancels.
			// This message only matters for a request still waiting in
			// the inbox; handleRequest checks msg.Ctx before doing any
			// work, so there's nothing left to steer here.
		default:
		}
	}
}

func (w *Worker) handleRequest(ctx context.Context, msg *bus.Message) {
	// A panic in the LLM client or the parse hook must not kill the worker
	// loop; the requester's pending request resolves as worker_failed.
	defer func() {
		if r := recover(); r != nil {
			w.Stats.recordFailure(0)
			w.Logger.Error("agent task panicked", "role", w.Agent.Role, "panic", r)
			w.Bus.Fail(msg.ID, fmt.Errorf("agent %s panicked: %v", w.Agent.Role, r))
		}
	}()

	base := ctx
	if msg.Ctx != nil {
		base = msg.Ctx
	}
	if base.Err() != nil {
		w.fail(msg, &AgentError{Kind: KindLLM, Role: w.Agent.Role, Err: base.Err()}, 0)
		return
	}

	taskCtx := base
	if msg.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(base, msg.Timeout)
		defer cancel()
	}

	start := time.Now()
	userPrompt := buildUserPrompt(msg.Payload)

	text, usage, err := w.completeWithBackoff(taskCtx, msg, userPrompt)
	if err != nil {
		w.fail(msg, &AgentError{Kind: KindLLM, Role: w.Agent.Role, Err: err}, time.Since(start))
		return
	}

	result, err := w.Agent.Parse(text, msg.Payload)
	if err != nil {
		w.fail(msg, &AgentError{Kind: KindParse, Role: w.Agent.Role, Err: err}, time.Since(start))
		return
	}
	result.Role = w.Agent.Role
	result.WallTime = time.Since(start)
	result.PromptTokens = usage.PromptTokens
	result.CompletionTokens = usage.CompletionTokens

	w.succeed(msg, result)
}

func (w *Worker) completeWithBackoff(ctx context.Context, msg *bus.Message, userPrompt string) (string, llm.Usage, error) {
	delay := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := w.Client.Completion(ctx, w.Agent.SystemPrompt, userPrompt, nil)
		if err == nil {
			return res.Text, res.Usage, nil
		}

		re, retryable := llm.AsRetryable(err)
		if !retryable {
			return "", llm.Usage{}, err
		}

		w.emitRateLimiting(msg, attempt)
		if w.Metrics != nil {
			w.Metrics.AgentRateLimited.WithLabelValues(string(w.Agent.Role)).Inc()
		}

		wait := delay
		if re.RetryAfter > wait {
			wait = re.RetryAfter
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", llm.Usage{}, ctx.Err()
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return "", llm.Usage{}, fmt.Errorf("agent runtime: %s exceeded %d retry attempts", w.Agent.Role, maxAttempts)
}

func (w *Worker) emitRateLimiting(msg *bus.Message, attempt int) {
	status := bus.NewMessage(bus.KindStatus, w.Agent.Role, msg.Sender, map[string]any{
		"event":   "rate_limiting",
		"attempt": attempt,
	}, bus.High)
	status.ReplyTo = msg.ID
	_ = w.Bus.Send(status) // best-effort; absence of a listener is not an error
}

func (w *Worker) succeed(msg *bus.Message, result AgentResult) {
	w.Stats.recordSuccess(result.WallTime)
	w.recordMetrics(result.WallTime, nil)

	resp := bus.NewMessage(bus.KindResponse, w.Agent.Role, msg.Sender, map[string]any{
		"fragment": result.Fragment,
		"hints":    result.Hints,
	}, msg.Priority)
	resp.ReplyTo = msg.ID
	_ = w.Bus.Reply(resp)
}

func (w *Worker) fail(msg *bus.Message, cause error, elapsed time.Duration) {
	w.Stats.recordFailure(elapsed)
	w.recordMetrics(elapsed, cause)
	w.Logger.Warn("agent task failed", "role", w.Agent.Role, "error", cause)

	resp := bus.NewMessage(bus.KindError, w.Agent.Role, msg.Sender, map[string]any{
		"error": cause.Error(),
	}, msg.Priority)
	resp.ReplyTo = msg.ID
	_ = w.Bus.Reply(resp)
}

func (w *Worker) recordMetrics(elapsed time.Duration, err error) {
	if w.Metrics == nil {
		return
	}
	role := string(w.Agent.Role)
	w.Metrics.AgentCalls.WithLabelValues(role).Inc()
	w.Metrics.AgentCallLatency.WithLabelValues(role).Observe(elapsed.Seconds())
	if err != nil {
		kind := "llm"
		var ae *AgentError
		if as, ok := err.(*AgentError); ok {
			ae = as
			kind = string(ae.Kind)
		}
		w.Metrics.AgentCallErrors.WithLabelValues(role, kind).Inc()
	}
}

// buildUserPrompt combines the payload's task instructions with the
// Shared Context slice the caller already attached to it (spec.md §4.4
// step 3 — the runtime doesn't read Shared Context directly).
func buildUserPrompt(payload map[string]any) string {
	instructions, _ := payload["instructions"].(string)
	contextSlice, hasContext := payload["context"]
	if !hasContext {
		return instructions
	}
	return fmt.Sprintf("%s\n\nContext:\n%v", instructions, contextSlice)
}
