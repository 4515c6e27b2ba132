// Package executor launches Blender as a child process, enforces a
// wall-clock timeout by killing its process group, and captures its
// stdout/stderr without risking the classic pipe-buffer deadlock.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the default process-count ceiling (spec.md §4.2).
const DefaultMaxConcurrent = 2

// DefaultCaptureLimit is the per-stream capture cap before truncation.
const DefaultCaptureLimit = 16 << 20 // 16 MiB

// DefaultKillGrace is how long Run waits after SIGTERM before SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Result is the outcome of one Blender invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	WallTime time.Duration
}

// cmdFunc builds the command to run; overridable in tests the way
// container_pool.go injects a cmdRunner to avoid spawning real processes.
type cmdFunc func(name string, arg ...string) *exec.Cmd

// Executor runs Blender subprocesses under a concurrency ceiling. It holds
// no per-invocation state, so one Executor is safe to share across
// concurrently running workflow sessions.
type Executor struct {
	sem          *semaphore.Weighted
	captureLimit int64
	killGrace    time.Duration
	newCmd       cmdFunc
}

// New returns an Executor allowing at most maxConcurrent subprocesses at
// once.
func New(maxConcurrent int64) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Executor{
		sem:          semaphore.NewWeighted(maxConcurrent),
		captureLimit: DefaultCaptureLimit,
		killGrace:    DefaultKillGrace,
		newCmd:       exec.Command,
	}
}

// Run launches blenderPath headlessly against scriptPath, blocks until it
// exits or timeout elapses, and returns the captured output either way.
// On timeout or a non-zero exit, Run returns both a non-nil *Result (with
// whatever was captured) and a non-nil *Error describing the failure.
func (e *Executor) Run(ctx context.Context, scriptPath, blenderPath string, timeout time.Duration) (*Result, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("executor: acquire slot: %w", err)
	}
	defer e.sem.Release(1)

	cmd := e.newCmd(blenderPath, "--background", "--python", scriptPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Kind: KindSpawnFailed, Details: err.Error()}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &Error{Kind: KindSpawnFailed, Details: err.Error()}
	}

	stdout := newCappedBuffer(e.captureLimit)
	stderr := newCappedBuffer(e.captureLimit)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: KindSpawnFailed, Details: err.Error()}
	}

	var drainWG sync.WaitGroup
	drainWG.Add(2)
	go func() { defer drainWG.Done(); stdout.drain(stdoutPipe) }()
	go func() { defer drainWG.Done(); stderr.drain(stderrPipe) }()

	waitDone := make(chan error, 1)
	go func() {
		drainWG.Wait()
		waitDone <- cmd.Wait()
	}()

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-time.After(timeout):
		timedOut = true
		waitErr = e.killAndWait(cmd, waitDone)
	case <-ctx.Done():
		waitErr = e.killAndWait(cmd, waitDone)
	}

	wallTime := time.Since(start)
	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), WallTime: wallTime}

	if timedOut {
		return result, &Error{
			Kind:           KindTimeout,
			Details:        fmt.Sprintf("exceeded timeout of %s", timeout),
			CapturedStderr: string(result.Stderr),
		}
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
		return result, nil
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, &Error{
			Kind:           KindNonZeroExit,
			Details:        fmt.Sprintf("exit code %d", result.ExitCode),
			CapturedStderr: string(result.Stderr),
		}
	default:
		return result, &Error{Kind: KindSpawnFailed, Details: waitErr.Error()}
	}
}

// killAndWait sends SIGTERM to cmd's process group, waits up to the grace
// window, then escalates to SIGKILL.
func (e *Executor) killAndWait(cmd *exec.Cmd, waitDone <-chan error) error {
	e.signalGroup(cmd, syscall.SIGTERM)
	select {
	case err := <-waitDone:
		return err
	case <-time.After(e.killGrace):
		e.signalGroup(cmd, syscall.SIGKILL)
		return <-waitDone
	}
}

func (e *Executor) signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, sig)
}
