package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/voxelcrew/voxelcrew/pkg/agentrt"
	"github.com/voxelcrew/voxelcrew/pkg/artifact"
	"github.com/voxelcrew/voxelcrew/pkg/bus"
	"github.com/voxelcrew/voxelcrew/pkg/config"
	"github.com/voxelcrew/voxelcrew/pkg/executor"
	"github.com/voxelcrew/voxelcrew/pkg/llm"
	"github.com/voxelcrew/voxelcrew/pkg/logger"
	"github.com/voxelcrew/voxelcrew/pkg/observability"
	"github.com/voxelcrew/voxelcrew/pkg/registry"
	"github.com/voxelcrew/voxelcrew/pkg/role"
	"github.com/voxelcrew/voxelcrew/pkg/sessionctl"
	"github.com/voxelcrew/voxelcrew/pkg/workflow"
)

// System bundles every component the CLI's subcommands need, wired once
// at startup from environment configuration.
type System struct {
	Cfg        *config.Config
	Store      *artifact.Store
	Bus        *bus.Bus
	Exec       *executor.Executor
	Engine     *workflow.Engine
	Controller *sessionctl.Controller
	Obs        *observability.Manager
	agents     *registry.BaseRegistry[agentrt.Agent]
	workers    []*agentrt.Worker
}

// buildSystem loads configuration and constructs the full dependency
// graph leaf-first: Artifact Store, observability, Message Bus, Executor,
// Workflow Engine, Session Controller, then the Agent Runtime workers.
func buildSystem(ctx context.Context, logLevel string) (*System, error) {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, &config.Error{Field: "LOG_LEVEL", Err: err}
	}
	logger.Init(level, os.Stderr, "simple")

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := artifact.NewStore(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	obs, err := observability.NewManager(ctx, &observability.Config{
		Tracing: observability.TracingConfig{Enabled: true},
		Metrics: observability.MetricsConfig{Enabled: true},
	})
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	messageBus := bus.New(obs.Metrics())
	exec := executor.New(executor.DefaultMaxConcurrent)
	engine := workflow.New(messageBus, store, exec, cfg, obs.Metrics(), slog.Default())
	controller := sessionctl.New(ctx, store, engine, obs.Metrics(), slog.Default())

	promptOverrides := map[role.Role]string{}
	if path := os.Getenv("ROLES_FILE"); path != "" {
		rf, err := config.LoadRoles(path)
		if err != nil {
			return nil, err
		}
		for _, rd := range rf.Roles {
			promptOverrides[rd.Role] = rd.SystemPrompt
		}
	}

	client := buildLLMClient()

	agentRegistry := registry.NewBaseRegistry[agentrt.Agent]()
	for _, a := range buildAgents(promptOverrides) {
		if err := agentRegistry.Register(string(a.Role), a); err != nil {
			return nil, fmt.Errorf("setup: register agent %s: %w", a.Role, err)
		}
	}

	workers := make([]*agentrt.Worker, 0, agentRegistry.Count())
	for _, a := range agentRegistry.List() {
		w := agentrt.NewWorker(a, messageBus, client)
		w.Metrics = obs.Metrics()
		w.Logger = slog.Default()
		workers = append(workers, w)
	}

	return &System{
		Cfg: cfg, Store: store, Bus: messageBus, Exec: exec,
		Engine: engine, Controller: controller, Obs: obs,
		agents: agentRegistry, workers: workers,
	}, nil
}

// buildLLMClient constructs the HTTP-backed Completion client from
// LLM_* environment variables (spec.md §6 treats the provider as an
// external collaborator; this is the core's reference wiring of it).
func buildLLMClient() llm.Client {
	baseURL := firstNonEmpty(os.Getenv("LLM_BASE_URL"), "https://api.openai.com/v1")
	model := firstNonEmpty(os.Getenv("LLM_MODEL"), "gpt-4o-mini")
	provider := firstNonEmpty(os.Getenv("LLM_PROVIDER"), "openai")
	apiKey := os.Getenv("LLM_API_KEY")
	return llm.NewHTTPClient(baseURL, apiKey, model, provider)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Start launches every registered agent worker's loop. Workers run until
// ctx is cancelled; ctx is also the base the Session Controller derives
// every session's cancel context from (sessionctl.New above), so a
// per-session Cancel and a process-wide shutdown both reach the same
// worker pool through the request context each bus message carries
// (pkg/bus.Message.Ctx), not through this loop's own ctx.
func (s *System) Start(ctx context.Context) {
	for _, w := range s.workers {
		go w.Run(ctx)
	}
}

// Shutdown releases the observability manager's resources.
func (s *System) Shutdown(ctx context.Context) error {
	return s.Obs.Shutdown(ctx)
}
