package sessionctl

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxelcrew/voxelcrew/pkg/artifact"
	"github.com/voxelcrew/voxelcrew/pkg/observability"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// Runner is the Workflow Engine surface the controller drives a session
// through. Kept as a narrow interface here (rather than importing
// pkg/workflow directly) so the controller and the engine can be tested
// independently, the same separation the teacher draws between
// pkg/session.Service and the agents that consume it.
type Runner interface {
	Run(ctx context.Context, sessionID, prompt string, roles role.Set, onProgress func(artifact.ProgressEvent)) (*artifact.Result, error)
}

// entry pairs a Session with the mutex serializing its transitions,
// mirroring the teacher's per-session memorySession.mu shape.
type entry struct {
	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
}

// Controller implements the Session Controller contract of spec.md §4.7.
type Controller struct {
	baseCtx context.Context
	store   *artifact.Store
	runner  Runner
	metrics *observability.Metrics
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// New wires a Controller to its Artifact Store and Workflow Engine. Every
// session's cancel context is derived from baseCtx, so cancelling baseCtx
// (e.g. on process shutdown) cancels every running session and, through
// it, every in-flight agent task the worker pool is running on their
// behalf. Metrics and Logger may be left nil/zero.
func New(baseCtx context.Context, store *artifact.Store, runner Runner, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		baseCtx:  baseCtx,
		store:    store,
		runner:   runner,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[string]*entry),
	}
}

// CreateSession creates a pending session and persists its initial state.
func (c *Controller) CreateSession(prompt string, roles role.Set) (*Session, error) {
	id := uuid.NewString()
	dir, err := c.store.OpenSession(id)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id,
		Prompt:    prompt,
		Roles:     roles,
		CreatedAt: time.Now(),
		Status:    Pending,
		OutputDir: dir,
	}

	e := &entry{session: s}
	c.mu.Lock()
	c.sessions[id] = e
	c.mu.Unlock()

	if err := c.persist(e); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
	}
	return s.clone(), nil
}

// StartSession launches the Workflow Engine for s in a new goroutine and
// returns immediately; the session transitions to running right away.
func (c *Controller) StartSession(s *Session) {
	c.mu.RLock()
	e, ok := c.sessions[s.ID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	e.mu.Lock()
	e.cancel = cancel
	e.session.Status = Running
	e.mu.Unlock()
	_ = c.persist(e)

	go c.drive(ctx, e)
}

func (c *Controller) drive(ctx context.Context, e *entry) {
	onProgress := func(ev artifact.ProgressEvent) {
		e.mu.Lock()
		e.session.Progress = append(e.session.Progress, ev)
		e.session.CurrentStage = ev.Stage
		if ev.Message == "rate_limiting" {
			e.session.Status = RateLimit
		} else if e.session.Status == RateLimit {
			e.session.Status = Running
		}
		e.mu.Unlock()
		_ = c.persist(e)
	}

	result, err := c.runner.Run(ctx, e.session.ID, e.session.Prompt, e.session.Roles, onProgress)

	e.mu.Lock()
	now := time.Now()
	e.session.CompletedAt = &now
	switch {
	case ctx.Err() == context.Canceled:
		e.session.Status = Cancelled
	case err != nil:
		e.session.Status = Failed
		if result == nil {
			result = &artifact.Result{Success: false, Error: err.Error()}
		}
		e.session.Result = result
	default:
		e.session.Status = Completed
		e.session.Result = result
	}
	status := e.session.Status
	iterations := 0
	if e.session.Result != nil {
		iterations = e.session.Result.Iterations
	}
	e.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionsCompleted.WithLabelValues(string(status)).Inc()
		c.metrics.SessionDuration.WithLabelValues(string(status)).Observe(now.Sub(e.sessionCreatedAt()).Seconds())
		if iterations > 0 {
			c.metrics.SessionIterations.WithLabelValues(string(status)).Observe(float64(iterations))
		}
	}

	if perr := c.persist(e); perr != nil {
		c.logger.Error("session controller: persist terminal state failed", "session", e.session.ID, "error", perr)
	}
}

func (e *entry) sessionCreatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.CreatedAt
}

func (c *Controller) persist(e *entry) error {
	e.mu.Lock()
	rec := e.session.toRecord()
	e.mu.Unlock()
	return c.store.AtomicWriteState(rec)
}

// Status returns a snapshot of session id, or nil if unknown.
func (c *Controller) Status(id string) *Session {
	c.mu.RLock()
	e, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// List returns sessions matching filter, sorted newest-first by creation
// time (spec.md §4.7).
func (c *Controller) List(filter Filter) []*Session {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.sessions))
	for _, e := range c.sessions {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		s := e.session.clone()
		e.mu.Unlock()
		if filter.matches(s) {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Cancel requests cancellation of a running session. Cancelling an
// already-terminal session is a no-op (testable property 7).
func (c *Controller) Cancel(id string) {
	c.mu.RLock()
	e, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	terminal := isTerminal(e.session.Status)
	cancel := e.cancel
	e.mu.Unlock()

	if terminal || cancel == nil {
		return
	}
	cancel()
}

func isTerminal(s Status) bool {
	return s == Completed || s == Failed || s == Cancelled
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Roles = append(role.Set(nil), s.Roles...)
	cp.Progress = append([]artifact.ProgressEvent(nil), s.Progress...)
	if s.Result != nil {
		r := *s.Result
		cp.Result = &r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Recover scans the configured output root and re-indexes every
// recoverable session in memory, applying the Artifact Store's recovery
// rule (spec.md §4.1/§4.7). Call once at startup before serving requests.
func (c *Controller) Recover() error {
	ids, err := c.store.ListSessions()
	if err != nil {
		return err
	}

	for _, id := range ids {
		rec, err := c.store.LoadState(id)
		if err != nil {
			c.logger.Warn("session controller: recovery load failed", "session", id, "error", err)
			continue
		}
		if rec == nil {
			continue
		}
		dir, _ := c.store.OpenSession(id)
		s := fromRecord(rec, dir)
		c.mu.Lock()
		c.sessions[id] = &entry{session: s}
		c.mu.Unlock()
	}
	return nil
}
