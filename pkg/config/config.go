// Package config loads VoxelCrew's process configuration from the
// environment (spec.md §6), the same godotenv + os.Getenv combination the
// teacher's pkg/config/env.go uses to source a .env file before reading
// variables, plus an optional roles.yaml parsed with gopkg.in/yaml.v3 to
// declare the enabled agent roles and their system prompts.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// RenderConfig holds the values injected into the bootstrap header of the
// combined script (spec.md §6).
type RenderConfig struct {
	Engine       string
	Samples      int
	ResolutionX  int
	ResolutionY  int
}

// AnimationConfig gates the Animation stage and supplies its parameters.
type AnimationConfig struct {
	Enabled bool
	Frames  int
	FPS     int
}

// Config is VoxelCrew's process-wide configuration, loaded once at
// startup. A missing BLENDER_PATH or an unreachable binary is a Config
// error: surfaced at startup, fails fast (spec.md §7).
type Config struct {
	BlenderPath     string
	OutputDir       string
	MaxIterations   int
	ReviewerEnabled bool
	Render          RenderConfig
	Animation       AnimationConfig
}

// Error is a Config error: missing required env or an unreachable
// Blender binary (spec.md §7). Callers should treat it as fatal.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads VoxelCrew's configuration from the process environment,
// first sourcing a .env file (if present) the way the teacher's
// LoadEnvFiles does. BLENDER_PATH is required and must resolve to an
// existing, executable file; every other variable has the default named
// in spec.md §6.
func Load() (*Config, error) {
	// Loaded one at a time: godotenv.Load stops at the first missing file,
	// and absence of either is not an error.
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		OutputDir:       getString("OUTPUT_DIR", "./output"),
		MaxIterations:   getInt("MAX_ITERATIONS", 3),
		ReviewerEnabled: getBool("REVIEWER_ENABLED", false),
		Render: RenderConfig{
			Engine:      getString("RENDER_ENGINE", "CYCLES"),
			Samples:     getInt("RENDER_SAMPLES", 128),
			ResolutionX: getInt("RENDER_RESOLUTION_X", 1920),
			ResolutionY: getInt("RENDER_RESOLUTION_Y", 1080),
		},
		Animation: AnimationConfig{
			Enabled: getBool("ANIMATION_ENABLED", false),
			Frames:  getInt("ANIMATION_FRAMES", 48),
			FPS:     getInt("ANIMATION_FPS", 24),
		},
	}

	blenderPath := os.Getenv("BLENDER_PATH")
	if blenderPath == "" {
		return nil, &Error{Field: "BLENDER_PATH", Err: fmt.Errorf("required environment variable not set")}
	}
	info, err := os.Stat(blenderPath)
	if err != nil {
		return nil, &Error{Field: "BLENDER_PATH", Err: err}
	}
	if info.IsDir() {
		return nil, &Error{Field: "BLENDER_PATH", Err: fmt.Errorf("%q is a directory, not a binary", blenderPath)}
	}
	if info.Mode().Perm()&0111 == 0 {
		return nil, &Error{Field: "BLENDER_PATH", Err: fmt.Errorf("%q is not executable", blenderPath)}
	}
	cfg.BlenderPath = blenderPath

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// RoleDoc is one entry of roles.yaml: a role tag and the system prompt
// body supplied to its agent at registration (spec.md §1 treats prompt
// text as an external collaborator's concern; this only carries it
// through to the Agent Runtime).
type RoleDoc struct {
	Role         role.Role `yaml:"role"`
	SystemPrompt string    `yaml:"system_prompt"`
}

// RolesFile is the parsed shape of roles.yaml.
type RolesFile struct {
	Roles []RoleDoc `yaml:"roles"`
}

// LoadRoles parses a roles.yaml document declaring the enabled agent
// roles and their system prompts, the same gopkg.in/yaml.v3 parser the
// teacher's config loader uses for its YAML documents.
func LoadRoles(path string) (*RolesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read roles file: %w", err)
	}
	var rf RolesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse roles file: %w", err)
	}
	return &rf, nil
}

// EnabledSet converts a RolesFile into the role.Set enabledRoles consumed
// by the Workflow Engine's Run, skipping unrecognized entries.
func (rf *RolesFile) EnabledSet() role.Set {
	out := make(role.Set, 0, len(rf.Roles))
	for _, rd := range rf.Roles {
		if rd.Role.Valid() {
			out = append(out, rd.Role)
		}
	}
	return out
}
