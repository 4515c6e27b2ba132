package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxelcrew/voxelcrew/pkg/bus"
	"github.com/voxelcrew/voxelcrew/pkg/role"
	"github.com/voxelcrew/voxelcrew/pkg/sharedctx"
)

// outcome is one stage invocation's result, merged into Shared Context by
// the caller on success.
type outcome struct {
	Role     role.Role
	Fragment string
	Hints    map[string]any
	Err      error
}

// invoke sends one request to r's inbox and waits for its correlated
// response, building the user prompt from instructions plus the relevant
// Shared Context slice (spec.md §4.4 step 3).
func (e *Engine) invoke(ctx context.Context, sessionID string, r role.Role, instructions string, sc *sharedctx.Context, priority bus.Priority, timeout time.Duration) outcome {
	payload := map[string]any{
		"instructions": instructions,
		"context":      sc.Snapshot(),
		"session_id":   sessionID,
	}

	msg, err := e.Bus.Request(ctx, role.Engine, r, payload, priority, timeout)
	if err != nil {
		return outcome{Role: r, Err: err}
	}
	if msg.Kind == bus.KindError {
		text, _ := msg.Payload["error"].(string)
		return outcome{Role: r, Err: fmt.Errorf("%s", text)}
	}

	fragment, _ := msg.Payload["fragment"].(string)
	hints, _ := msg.Payload["hints"].(map[string]any)
	return outcome{Role: r, Fragment: fragment, Hints: hints}
}

// merge applies a successful outcome's hints into Shared Context under
// its role-qualified key (spec.md §3 "concept.mood", "builder.objects").
func (o outcome) merge(sc *sharedctx.Context) {
	for k, v := range o.Hints {
		sc.Put(fmt.Sprintf("%s.%s", o.Role, k), v)
	}
}

// fanOut runs roles concurrently via bus requests and awaits them
// together (spec.md §4.6). It fails only if every invoked sibling errors;
// otherwise it returns the partial results and the caller records which
// sibling, if any, failed.
func (e *Engine) fanOut(ctx context.Context, sessionID string, roles []role.Role, instructions string, sc *sharedctx.Context, timeout time.Duration) ([]outcome, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	results := make([]outcome, len(roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range roles {
		i, r := i, r
		g.Go(func() error {
			results[i] = e.invoke(gctx, sessionID, r, instructions, sc, bus.Normal, timeout)
			return nil
		})
	}
	_ = g.Wait() // invoke never returns an error from this goroutine itself

	failures := make(map[role.Role]error)
	for _, res := range results {
		if res.Err != nil {
			failures[res.Role] = res.Err
		}
	}
	if len(failures) == len(results) {
		return results, &FanOutError{Failures: failures}
	}
	return results, nil
}
