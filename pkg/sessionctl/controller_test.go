package sessionctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/artifact"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// fakeRunner stands in for the Workflow Engine, letting tests drive
// Controller.drive's outcome without a real bus/executor.
type fakeRunner struct {
	progress []artifact.ProgressEvent
	result   *artifact.Result
	err      error
	block    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, sessionID, prompt string, roles role.Set, onProgress func(artifact.ProgressEvent)) (*artifact.Result, error) {
	for _, ev := range f.progress {
		onProgress(ev)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func waitTerminal(t *testing.T, c *Controller, id string) *Session {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s := c.Status(id); s != nil && isTerminal(s.Status) {
			return s
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for terminal status")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCreateSessionIsPending(t *testing.T) {
	c := New(context.Background(), newStore(t), &fakeRunner{result: &artifact.Result{Success: true}}, nil, nil)

	s, err := c.CreateSession("a red cube", role.Set{role.Builder})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Status != Pending {
		t.Errorf("Status = %v, want pending", s.Status)
	}
	if s.ID == "" {
		t.Error("expected a generated session ID")
	}
}

func TestStartSessionCompletes(t *testing.T) {
	runner := &fakeRunner{result: &artifact.Result{Success: true, Iterations: 2}}
	c := New(context.Background(), newStore(t), runner, nil, nil)

	s, _ := c.CreateSession("a red cube", role.Set{role.Builder})
	c.StartSession(s)

	final := waitTerminal(t, c, s.ID)
	if final.Status != Completed {
		t.Errorf("Status = %v, want completed", final.Status)
	}
	if final.Result == nil || final.Result.Iterations != 2 {
		t.Errorf("Result = %+v", final.Result)
	}
}

func TestStartSessionFails(t *testing.T) {
	runner := &fakeRunner{err: errors.New("builder exploded")}
	c := New(context.Background(), newStore(t), runner, nil, nil)

	s, _ := c.CreateSession("a red cube", role.Set{role.Builder})
	c.StartSession(s)

	final := waitTerminal(t, c, s.ID)
	if final.Status != Failed {
		t.Errorf("Status = %v, want failed", final.Status)
	}
	if final.Result == nil || final.Result.Error == "" {
		t.Errorf("expected a populated Result.Error, got %+v", final.Result)
	}
}

func TestProgressRateLimitingTransitionsStatus(t *testing.T) {
	runner := &fakeRunner{
		progress: []artifact.ProgressEvent{{Stage: "builder", Message: "rate_limiting"}},
		result:   &artifact.Result{Success: true},
		block:    make(chan struct{}),
	}
	c := New(context.Background(), newStore(t), runner, nil, nil)

	s, _ := c.CreateSession("a red cube", role.Set{role.Builder})
	c.StartSession(s)

	deadline := time.After(2 * time.Second)
	for {
		if got := c.Status(s.ID); got != nil && got.Status == RateLimit {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for rate_limiting status")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(runner.block)
	waitTerminal(t, c, s.ID)
}

func TestCancelIsNoOpOnceTerminal(t *testing.T) {
	runner := &fakeRunner{result: &artifact.Result{Success: true}}
	c := New(context.Background(), newStore(t), runner, nil, nil)

	s, _ := c.CreateSession("a red cube", role.Set{role.Builder})
	c.StartSession(s)
	waitTerminal(t, c, s.ID)

	c.Cancel(s.ID) // must not panic or alter the terminal status
	if got := c.Status(s.ID); got.Status != Completed {
		t.Errorf("Status after no-op Cancel = %v, want completed", got.Status)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	c := New(context.Background(), newStore(t), &fakeRunner{result: &artifact.Result{Success: true}}, nil, nil)

	done, _ := c.CreateSession("done", role.Set{role.Builder})
	c.StartSession(done)
	waitTerminal(t, c, done.ID)

	if _, err := c.CreateSession("pending", role.Set{role.Builder}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	completed := c.List(Filter{Status: Completed})
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Errorf("List(Completed) = %v", completed)
	}

	all := c.List(Filter{})
	if len(all) != 2 {
		t.Errorf("List(all) len = %d, want 2", len(all))
	}
}

func TestRecoverReindexesFromDisk(t *testing.T) {
	store := newStore(t)
	runner := &fakeRunner{result: &artifact.Result{Success: true}}
	c := New(context.Background(), store, runner, nil, nil)

	s, _ := c.CreateSession("a red cube", role.Set{role.Builder})
	c.StartSession(s)
	waitTerminal(t, c, s.ID)

	// A fresh Controller over the same store, as after a process restart.
	fresh := New(context.Background(), store, runner, nil, nil)
	if err := fresh.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	recovered := fresh.Status(s.ID)
	if recovered == nil {
		t.Fatal("expected session to be recovered from disk")
	}
	if recovered.Status != Completed {
		t.Errorf("recovered Status = %v, want completed", recovered.Status)
	}
}
