package workflow

import (
	"fmt"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// StageError is attached to a session's result when a non-parallel
// required stage fails (spec.md §4.6/§7): "Any single agent error inside
// a non-parallel stage → session fails with the offending role and error
// attached."
type StageError struct {
	Role role.Role
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("workflow: stage %s failed: %v", e.Role, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FanOutError is returned when every sibling of a parallel fan-out
// errored (spec.md §4.6: "the engine fails the fan-out only if all
// siblings error").
type FanOutError struct {
	Failures map[role.Role]error
}

func (e *FanOutError) Error() string {
	return fmt.Sprintf("workflow: fan-out failed, all %d siblings errored", len(e.Failures))
}
