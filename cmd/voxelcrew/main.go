// Command voxelcrew runs the multi-agent scene generation system: a
// workflow engine that turns a natural-language scene description into a
// Blender scene through coordinated LLM agents.
//
// Usage:
//
//	voxelcrew generate "a red cube on a checkerboard floor"
//	voxelcrew serve --addr :8080
//	voxelcrew status <session-id>
//	voxelcrew list --status running
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/voxelcrew/voxelcrew/pkg/config"
	"github.com/voxelcrew/voxelcrew/pkg/role"
	"github.com/voxelcrew/voxelcrew/pkg/sessionctl"
)

// Exit codes per spec.md §6.
const (
	exitOK         = 0
	exitConfig     = 1
	exitExecution  = 2
	exitCancelled  = 130
)

// CLI defines the command-line interface.
type CLI struct {
	Generate GenerateCmd `cmd:"" help:"Generate a Blender scene from a prompt and wait for completion."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server."`
	Status   StatusCmd   `cmd:"" help:"Show a session's current state."`
	List     ListCmd     `cmd:"" help:"List known sessions."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// GenerateCmd runs one session to completion on the CLI, blocking until the
// session reaches a terminal status (spec.md §6).
type GenerateCmd struct {
	Prompt string   `arg:"" help:"Natural-language scene description."`
	Roles  []string `help:"Roles to enable (default: all)." optional:""`
}

func (c *GenerateCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := buildSystem(ctx, cli.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Shutdown(context.Background()) }()
	sys.Start(ctx)

	roles := role.ParseSet(c.Roles)
	if len(roles) == 0 {
		roles = defaultRoles()
	}

	sess, err := sys.Controller.CreateSession(c.Prompt, roles)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	sys.Controller.StartSession(sess)
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-ticker.C:
				if s := sys.Controller.Status(sess.ID); s != nil && isTerminalStatus(s.Status) {
					sess = s
					close(done)
					return
				}
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sys.Controller.Cancel(sess.ID)
		fmt.Fprintln(os.Stderr, "voxelcrew: interrupted")
		os.Exit(exitCancelled)
	}

	fmt.Printf("session %s: %s\n", sess.ID, sess.Status)
	if sess.Result != nil {
		fmt.Printf("  output: %s\n", sess.Result.OutputPath)
		fmt.Printf("  iterations: %d\n", sess.Result.Iterations)
		if sess.Result.Error != "" {
			fmt.Printf("  error: %s\n", sess.Result.Error)
		}
	}

	if sess.Status == sessionctl.Failed {
		os.Exit(exitExecution)
	}
	return nil
}

func isTerminalStatus(s sessionctl.Status) bool {
	return s == sessionctl.Completed || s == sessionctl.Failed || s == sessionctl.Cancelled
}

func defaultRoles() role.Set {
	return role.Set{
		role.Concept, role.Builder, role.Texture, role.Lighting, role.Validator,
		role.Render, role.Animation, role.Save, role.Reviewer, role.AssetRegistrar,
	}
}

// ServeCmd starts the HTTP API server (spec.md §6).
type ServeCmd struct {
	Addr string `help:"Listen address." default:":8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := buildSystem(ctx, cli.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Shutdown(context.Background()) }()

	sys.Start(ctx)
	if err := sys.Controller.Recover(); err != nil {
		return err
	}

	if err := runServe(ctx, sys, c.Addr); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "voxelcrew: shutting down")
			os.Exit(exitCancelled)
		}
		return err
	}
	return nil
}

// StatusCmd prints one session's current state.
type StatusCmd struct {
	ID string `arg:"" help:"Session ID."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sys, err := buildSystem(ctx, cli.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Shutdown(ctx) }()

	if err := sys.Controller.Recover(); err != nil {
		return err
	}

	sess := sys.Controller.Status(c.ID)
	if sess == nil {
		return fmt.Errorf("session %q not found", c.ID)
	}

	fmt.Printf("id:       %s\n", sess.ID)
	fmt.Printf("status:   %s\n", sess.Status)
	fmt.Printf("stage:    %s\n", sess.CurrentStage)
	fmt.Printf("roles:    %s\n", strings.Join(sess.Roles.Strings(), ","))
	if sess.Result != nil {
		fmt.Printf("output:   %s\n", sess.Result.OutputPath)
	}
	return nil
}

// ListCmd lists known sessions, optionally filtered by status.
type ListCmd struct {
	Status string `help:"Filter by status."`
	Limit  int    `help:"Maximum sessions to show."`
}

func (c *ListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sys, err := buildSystem(ctx, cli.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Shutdown(ctx) }()

	if err := sys.Controller.Recover(); err != nil {
		return err
	}

	sessions := sys.Controller.List(sessionctl.Filter{
		Status: sessionctl.Status(c.Status),
		Limit:  c.Limit,
	})
	for _, sess := range sessions {
		fmt.Printf("%s\t%s\t%s\n", sess.ID, sess.Status, sess.Prompt)
	}
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("voxelcrew"),
		kong.Description("Multi-agent workflow engine for Blender scene generation."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err == nil {
		os.Exit(exitOK)
	}

	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		fmt.Fprintln(os.Stderr, "voxelcrew:", err)
		os.Exit(exitConfig)
	}

	fmt.Fprintln(os.Stderr, "voxelcrew:", err)
	os.Exit(exitExecution)
}
