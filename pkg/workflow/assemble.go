package workflow

import (
	"fmt"
	"strings"

	"github.com/voxelcrew/voxelcrew/pkg/config"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// assemblyOrder is the stage-ordinal order combined scripts concatenate
// fragments in (spec.md §4.6 Assembly, testable property 3). Concept
// produces a document, not a script fragment, and the asset-registration
// side stage's outcome never reaches the combined script (spec.md §9
// Open Questions resolution) — neither appears here.
var assemblyOrder = []role.Role{
	role.Builder,
	role.Texture,
	role.Lighting,
	role.Validator,
	role.Render,
	role.Animation,
	role.Save,
}

// bootstrapHeader renders the scene-reset and output-path configuration
// every combined script is prefixed with (spec.md §4.6 Assembly), injecting
// the RENDER_* and ANIMATION_* environment values (spec.md §6).
func bootstrapHeader(sessionID string, iteration int, cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# VoxelCrew combined script — session %s, iteration %d\n", sessionID, iteration)
	b.WriteString("import bpy\n\n")
	b.WriteString("bpy.ops.wm.read_factory_settings(use_empty=True)\n")
	b.WriteString("scene = bpy.context.scene\n")
	fmt.Fprintf(&b, "scene.render.engine = %q\n", cfg.Render.Engine)
	fmt.Fprintf(&b, "scene.render.resolution_x = %d\n", cfg.Render.ResolutionX)
	fmt.Fprintf(&b, "scene.render.resolution_y = %d\n", cfg.Render.ResolutionY)
	if cfg.Render.Engine == "CYCLES" {
		fmt.Fprintf(&b, "scene.cycles.samples = %d\n", cfg.Render.Samples)
	}
	if cfg.Animation.Enabled {
		b.WriteString("scene.frame_start = 1\n")
		fmt.Fprintf(&b, "scene.frame_end = %d\n", cfg.Animation.Frames)
		fmt.Fprintf(&b, "scene.render.fps = %d\n", cfg.Animation.FPS)
	}
	b.WriteString("\n")
	return b.String()
}

// assembleCombined concatenates fragments in assemblyOrder, preceded by
// the bootstrap header, producing the text handed to the Executor.
func assembleCombined(sessionID string, iteration int, cfg *config.Config, fragments map[role.Role]string) []byte {
	var b strings.Builder
	b.WriteString(bootstrapHeader(sessionID, iteration, cfg))

	for _, r := range assemblyOrder {
		frag, ok := fragments[r]
		if !ok || strings.TrimSpace(frag) == "" {
			continue
		}
		fmt.Fprintf(&b, "# --- stage %s: %s ---\n", r.Ordinal(), r)
		b.WriteString(frag)
		if !strings.HasSuffix(frag, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}
