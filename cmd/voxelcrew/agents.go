package main

import (
	"encoding/json"
	"strings"

	"github.com/voxelcrew/voxelcrew/pkg/agentrt"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// defaultPrompts is the builtin system prompt body for every role, used
// when no roles.yaml is supplied at startup (spec.md §1: "prompt-to-code
// prompt text" is an external collaborator's concern; these are minimal
// placeholders a real deployment overrides via config.LoadRoles).
var defaultPrompts = map[role.Role]string{
	role.Concept:        "You are the concept agent. Read the scene prompt and produce a short design brief describing mood, palette, and composition.",
	role.Builder:        "You are the builder agent. Emit Blender Python that constructs the geometry described by the scene prompt and concept brief.",
	role.Texture:        "You are the texture agent. Emit Blender Python that assigns materials to the objects described in the shared context.",
	role.Lighting:       "You are the lighting agent. Emit Blender Python that sets up a lighting rig appropriate to the scene's mood.",
	role.Validator:      "You are the spatial validator. Inspect the builder's object layout for collisions or out-of-bounds placement and report findings as hints; you do not need to emit a script fragment.",
	role.Render:         "You are the render-setup agent. Emit Blender Python that configures the camera and output settings.",
	role.Animation:      "You are the animation agent. Emit Blender Python that keyframes the scene described in the shared context.",
	role.Save:           "You are the save agent. Emit Blender Python that saves the assembled scene to a .blend file and triggers a render.",
	role.Reviewer:       "You are the reviewer. Critique the rendered result and return a JSON object with \"rating\" (0-10) and \"should_refine\" (bool) in your hints.",
	role.AssetRegistrar: "You are the asset registrar. Emit hints describing any external assets referenced by the scene for downstream bookkeeping; you do not need to emit a script fragment.",
}

// responseEnvelope is the JSON shape every agent is instructed to reply
// with: a script fragment plus a free-form hints map (spec.md §3
// AgentResult). A reply that isn't valid JSON is treated as a bare
// fragment with no hints, so a plain-text completion still produces a
// usable result instead of a parse error.
type responseEnvelope struct {
	Fragment string         `json:"fragment"`
	Hints    map[string]any `json:"hints"`
}

// parseAgentResponse implements agentrt.ParseResponse for every role: the
// same envelope shape handles every stage since the core treats fragments
// as opaque byte streams (spec.md §1).
func parseAgentResponse(raw string, _ map[string]any) (agentrt.AgentResult, error) {
	trimmed := strings.TrimSpace(raw)
	var env responseEnvelope
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &env); err == nil {
			return agentrt.AgentResult{Fragment: env.Fragment, Hints: env.Hints}, nil
		}
	}
	return agentrt.AgentResult{Fragment: raw, Hints: map[string]any{}}, nil
}

// buildAgents returns the closed set of agents the runtime registers,
// using promptOverrides where present and defaultPrompts otherwise.
func buildAgents(promptOverrides map[role.Role]string) []agentrt.Agent {
	roles := []role.Role{
		role.Concept, role.Builder, role.Texture, role.Lighting, role.Validator,
		role.Render, role.Animation, role.Save, role.Reviewer, role.AssetRegistrar,
	}

	agents := make([]agentrt.Agent, 0, len(roles))
	for _, r := range roles {
		prompt := defaultPrompts[r]
		if override, ok := promptOverrides[r]; ok && override != "" {
			prompt = override
		}
		agents = append(agents, agentrt.Agent{
			Role:         r,
			SystemPrompt: prompt,
			Parse:        parseAgentResponse,
		})
	}
	return agents
}
