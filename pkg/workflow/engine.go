// Package workflow implements the Workflow Engine of spec.md §4.6: the
// fixed stage DAG that drives agent invocations over the Message Bus,
// fans out Texture/Lighting in parallel, assembles the combined script,
// runs it through the Executor, and iterates with the Reviewer. Grounded
// on the teacher's agent/workflowagent package: fan-out mirrors
// runParallel's errgroup shape (parallel.go) and refinement mirrors
// runLoop's bounded-count shape (loop.go), generalized from sub-agent
// trees to bus-routed stage requests.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/artifact"
	"github.com/voxelcrew/voxelcrew/pkg/bus"
	"github.com/voxelcrew/voxelcrew/pkg/config"
	"github.com/voxelcrew/voxelcrew/pkg/executor"
	"github.com/voxelcrew/voxelcrew/pkg/observability"
	"github.com/voxelcrew/voxelcrew/pkg/role"
	"github.com/voxelcrew/voxelcrew/pkg/sharedctx"
)

// Default stage/executor deadlines (spec.md §5).
const (
	DefaultStageTimeout    = 120 * time.Second
	DefaultExecutorTimeout = 600 * time.Second
)

// Engine implements the Workflow Engine contract of spec.md §4.6.
type Engine struct {
	Bus     *bus.Bus
	Store   *artifact.Store
	Exec    *executor.Executor
	Cfg     *config.Config
	Metrics *observability.Metrics
	Logger  *slog.Logger

	StageTimeout    time.Duration
	ExecutorTimeout time.Duration
}

// New wires an Engine. Metrics and Logger may be left nil.
func New(b *bus.Bus, store *artifact.Store, exec *executor.Executor, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Bus: b, Store: store, Exec: exec, Cfg: cfg, Metrics: metrics, Logger: logger,
		StageTimeout:    DefaultStageTimeout,
		ExecutorTimeout: DefaultExecutorTimeout,
	}
}

// Run drives sessionID through the stage DAG, iterating with the
// Reviewer when enabled, until the session reaches a terminal result
// (spec.md §4.6 contract: Run(session, prompt, enabledRoles) -> Result).
func (e *Engine) Run(ctx context.Context, sessionID, prompt string, roles role.Set, onProgress func(artifact.ProgressEvent)) (*artifact.Result, error) {
	if onProgress == nil {
		onProgress = func(artifact.ProgressEvent) {}
	}

	e.Bus.RegisterRole(role.Engine)
	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	go e.drainStatus(statusCtx, onProgress)

	sc := sharedctx.New()
	maxIterations := e.Cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 3
	}

	for iteration := 1; ; iteration++ {
		e.progress(onProgress, "iteration", "", fmt.Sprintf("iteration %d starting", iteration))

		if iteration == 1 && roles.Contains(role.Concept) {
			res := e.invoke(ctx, sessionID, role.Concept, prompt, sc, bus.Normal, e.StageTimeout)
			if res.Err != nil {
				return e.fail(sessionID, iteration, &StageError{Role: role.Concept, Err: res.Err})
			}
			res.merge(sc)
			if res.Fragment != "" {
				if _, err := e.Store.WriteArtifact(sessionID, artifact.KindConceptDoc, role.Concept, iteration, []byte(res.Fragment)); err != nil {
					return e.fail(sessionID, iteration, err)
				}
			}
			e.progress(onProgress, string(role.Concept), string(role.Concept), "concept produced")
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fragments := make(map[role.Role]string)

		if roles.Contains(role.Builder) {
			res := e.invoke(ctx, sessionID, role.Builder, prompt, sc, bus.Normal, e.StageTimeout)
			if res.Err != nil {
				return e.fail(sessionID, iteration, &StageError{Role: role.Builder, Err: res.Err})
			}
			res.merge(sc)
			fragments[role.Builder] = res.Fragment
			if err := e.writeStageScript(sessionID, role.Builder, iteration, res.Fragment); err != nil {
				return e.fail(sessionID, iteration, err)
			}
			e.progress(onProgress, string(role.Builder), string(role.Builder), "builder produced")

			if roles.Contains(role.AssetRegistrar) {
				e.dispatchAssetRegistrar(ctx, sessionID, sc, onProgress)
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var fanOutRoles []role.Role
		for _, r := range []role.Role{role.Texture, role.Lighting} {
			if roles.Contains(r) {
				fanOutRoles = append(fanOutRoles, r)
			}
		}
		fanOutResults, err := e.fanOut(ctx, sessionID, fanOutRoles, prompt, sc, e.StageTimeout)
		if err != nil {
			return e.fail(sessionID, iteration, err)
		}
		for _, res := range fanOutResults {
			if res.Err != nil {
				e.progress(onProgress, string(res.Role), string(res.Role), "failed: "+res.Err.Error())
				continue
			}
			res.merge(sc)
			fragments[res.Role] = res.Fragment
			if err := e.writeStageScript(sessionID, res.Role, iteration, res.Fragment); err != nil {
				return e.fail(sessionID, iteration, err)
			}
			e.progress(onProgress, string(res.Role), string(res.Role), "produced")
		}

		if roles.Contains(role.Validator) {
			res := e.invoke(ctx, sessionID, role.Validator, prompt, sc, bus.Normal, e.StageTimeout)
			if res.Err != nil {
				// Validator is explicitly non-fatal (spec.md §4.6 "Validator
				// (optional)"); record and continue to Render-setup.
				e.progress(onProgress, string(role.Validator), string(role.Validator), "failed (non-fatal): "+res.Err.Error())
			} else {
				res.merge(sc)
				fragments[role.Validator] = res.Fragment
				_ = e.writeStageScript(sessionID, role.Validator, iteration, res.Fragment)
				e.progress(onProgress, string(role.Validator), string(role.Validator), "produced")
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if roles.Contains(role.Render) {
			res := e.invoke(ctx, sessionID, role.Render, prompt, sc, bus.Normal, e.StageTimeout)
			if res.Err != nil {
				return e.fail(sessionID, iteration, &StageError{Role: role.Render, Err: res.Err})
			}
			res.merge(sc)
			fragments[role.Render] = res.Fragment
			if err := e.writeStageScript(sessionID, role.Render, iteration, res.Fragment); err != nil {
				return e.fail(sessionID, iteration, err)
			}
			e.progress(onProgress, string(role.Render), string(role.Render), "produced")
		}

		if e.Cfg.Animation.Enabled && roles.Contains(role.Animation) {
			res := e.invoke(ctx, sessionID, role.Animation, prompt, sc, bus.Normal, e.StageTimeout)
			if res.Err != nil {
				return e.fail(sessionID, iteration, &StageError{Role: role.Animation, Err: res.Err})
			}
			res.merge(sc)
			fragments[role.Animation] = res.Fragment
			if err := e.writeStageScript(sessionID, role.Animation, iteration, res.Fragment); err != nil {
				return e.fail(sessionID, iteration, err)
			}
			e.progress(onProgress, string(role.Animation), string(role.Animation), "produced")
		}

		if roles.Contains(role.Save) {
			res := e.invoke(ctx, sessionID, role.Save, prompt, sc, bus.Normal, e.StageTimeout)
			if res.Err != nil {
				return e.fail(sessionID, iteration, &StageError{Role: role.Save, Err: res.Err})
			}
			res.merge(sc)
			fragments[role.Save] = res.Fragment
			if err := e.writeStageScript(sessionID, role.Save, iteration, res.Fragment); err != nil {
				return e.fail(sessionID, iteration, err)
			}
			e.progress(onProgress, string(role.Save), string(role.Save), "produced")
		}

		combined := assembleCombined(sessionID, iteration, e.Cfg, fragments)
		combinedPath, err := e.Store.WriteArtifact(sessionID, artifact.KindCombinedScript, "", iteration, combined)
		if err != nil {
			return e.fail(sessionID, iteration, err)
		}
		e.progress(onProgress, "save", "", "combined script assembled")

		execResult, execErr := e.Exec.Run(ctx, combinedPath, e.Cfg.BlenderPath, e.ExecutorTimeout)
		if e.Metrics != nil {
			outcome := "ok"
			if execErr != nil {
				outcome = "error"
			}
			e.Metrics.ExecutorRuns.WithLabelValues(outcome).Inc()
			if execResult != nil {
				e.Metrics.ExecutorWallTime.WithLabelValues(outcome).Observe(execResult.WallTime.Seconds())
			}
		}
		if execErr != nil {
			e.progress(onProgress, "render", "", "executor failed: "+execErr.Error())
		} else {
			e.progress(onProgress, "render", "", "executor succeeded")
		}

		if !e.Cfg.ReviewerEnabled {
			if execErr != nil {
				return e.fail(sessionID, iteration, execErr)
			}
			return e.complete(sessionID, iteration, execResult)
		}

		reviewRes := e.invoke(ctx, sessionID, role.Reviewer, prompt, sc, bus.High, e.StageTimeout)
		if reviewRes.Err != nil {
			// A reviewer that can't be consulted stops iteration rather than
			// looping forever (spec.md §7: agent errors are carried in the
			// stage response, engine decides per §4.6 — the reviewer never
			// runs again once it can't be reached).
			e.progress(onProgress, string(role.Reviewer), string(role.Reviewer), "failed: "+reviewRes.Err.Error())
			if execErr != nil {
				return e.fail(sessionID, iteration, execErr)
			}
			return e.complete(sessionID, iteration, execResult)
		}
		reviewRes.merge(sc)
		decision := parseReviewDecision(reviewRes.Hints)
		e.progress(onProgress, string(role.Reviewer), string(role.Reviewer),
			fmt.Sprintf("rating=%.1f should_refine=%v", decision.Rating, decision.ShouldRefine))

		if decision.shouldRefine() && iteration < maxIterations {
			continue
		}
		if execErr != nil {
			return e.fail(sessionID, iteration, execErr)
		}
		return e.complete(sessionID, iteration, execResult)
	}
}

func (e *Engine) writeStageScript(sessionID string, r role.Role, iteration int, fragment string) error {
	if r.Ordinal() == "" {
		return nil
	}
	_, err := e.Store.WriteArtifact(sessionID, artifact.KindStageScript, r, iteration, []byte(fragment))
	return err
}

// dispatchAssetRegistrar fires the non-blocking asset-registration side
// stage (spec.md §9 Open Questions: the source's unawaited background
// task, made an ordinary stage with no bearing on session completion).
func (e *Engine) dispatchAssetRegistrar(ctx context.Context, sessionID string, sc *sharedctx.Context, onProgress func(artifact.ProgressEvent)) {
	go func() {
		res := e.invoke(ctx, sessionID, role.AssetRegistrar, "register scene assets", sc, bus.Low, e.StageTimeout)
		if res.Err != nil {
			e.progress(onProgress, string(role.AssetRegistrar), string(role.AssetRegistrar), "failed: "+res.Err.Error())
			return
		}
		res.merge(sc)
		e.progress(onProgress, string(role.AssetRegistrar), string(role.AssetRegistrar), "registered")
	}()
}

// drainStatus forwards rate_limiting status messages routed back to the
// engine's own inbox into progress events (spec.md §4.4 step 4: "emit a
// status message with kind rate_limiting between attempts").
func (e *Engine) drainStatus(ctx context.Context, onProgress func(artifact.ProgressEvent)) {
	for {
		msg, err := e.Bus.Receive(ctx, role.Engine)
		if err != nil {
			return
		}
		if msg.Kind != bus.KindStatus {
			continue
		}
		event, _ := msg.Payload["event"].(string)
		onProgress(artifact.ProgressEvent{
			Stage:     string(msg.Sender),
			Agent:     string(msg.Sender),
			Message:   event,
			Timestamp: time.Now(),
		})
	}
}

func (e *Engine) progress(onProgress func(artifact.ProgressEvent), stage, agent, message string) {
	onProgress(artifact.ProgressEvent{Stage: stage, Agent: agent, Message: message, Timestamp: time.Now()})
}

func (e *Engine) fail(sessionID string, iteration int, err error) (*artifact.Result, error) {
	e.Logger.Warn("workflow: session failed", "session", sessionID, "iteration", iteration, "error", err)
	return &artifact.Result{Success: false, Iterations: iteration, Error: err.Error()}, err
}

func (e *Engine) complete(sessionID string, iteration int, execResult *executor.Result) (*artifact.Result, error) {
	result := &artifact.Result{Success: true, Iterations: iteration}
	if execResult != nil {
		result.RenderTimeS = execResult.WallTime.Seconds()
	}
	dir := ""
	if e.Store != nil {
		dir, _ = e.Store.OpenSession(sessionID)
	}
	if dir != "" {
		result.OutputPath = dir
	}
	return result, nil
}
