package executor

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// fakeBlender stands in for the real Blender binary: Run always invokes
// newCmd(blenderPath, "--background", "--python", scriptPath), so the
// script path alone selects the shell behavior to simulate.
func fakeBlender(name string, args ...string) *exec.Cmd {
	scriptPath := args[len(args)-1]
	switch {
	case strings.Contains(scriptPath, "ok"):
		return exec.Command("sh", "-c", "echo hello; exit 0")
	case strings.Contains(scriptPath, "fail"):
		return exec.Command("sh", "-c", "echo broke 1>&2; exit 3")
	case strings.Contains(scriptPath, "sleep"):
		return exec.Command("sh", "-c", "sleep 5")
	default:
		return exec.Command("sh", "-c", "exit 0")
	}
}

func newTestExecutor() *Executor {
	e := New(2)
	e.newCmd = fakeBlender
	e.killGrace = 200 * time.Millisecond
	return e
}

func TestRunSuccess(t *testing.T) {
	e := newTestExecutor()
	res, err := e.Run(context.Background(), "ok.py", "blender", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(string(res.Stdout), "hello") {
		t.Errorf("Stdout = %q, want to contain hello", res.Stdout)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	e := newTestExecutor()
	res, err := e.Run(context.Background(), "fail.py", "blender", 5*time.Second)

	var execErr *Error
	if !errors.As(err, &execErr) || execErr.Kind != KindNonZeroExit {
		t.Fatalf("expected non_zero_exit, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "broke") {
		t.Errorf("Stderr = %q, want to contain broke", res.Stderr)
	}
}

func TestRunTimeoutKillsWithinGrace(t *testing.T) {
	e := newTestExecutor()

	start := time.Now()
	_, err := e.Run(context.Background(), "sleep.py", "blender", 100*time.Millisecond)
	elapsed := time.Since(start)

	var execErr *Error
	if !errors.As(err, &execErr) || execErr.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	// Timeout (100ms) + grace (200ms) + scheduling slack.
	if elapsed > 2*time.Second {
		t.Errorf("took %v to terminate after timeout, want well under 2s", elapsed)
	}
}

func TestRunRespectsConcurrencyCeiling(t *testing.T) {
	e := New(1)
	e.newCmd = fakeBlender

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Hold the only slot.
	e.sem.Acquire(context.Background(), 1)
	defer e.sem.Release(1)

	_, err := e.Run(ctx, "ok.py", "blender", time.Second)
	if err == nil {
		t.Fatal("expected acquire to fail while the only slot is held")
	}
}
