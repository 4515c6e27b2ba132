package bus

import (
	"fmt"

	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// ErrorKind classifies a BusError.
type ErrorKind string

const (
	ErrBackpressureTimeout ErrorKind = "backpressure_timeout"
	ErrWorkerFailed        ErrorKind = "worker_failed"
	ErrCancelled           ErrorKind = "cancelled"
	ErrUnknownRole         ErrorKind = "unknown_role"
)

// Error is the typed error surface for every bus failure mode in
// spec.md §4.3 and §7.
type Error struct {
	Kind ErrorKind
	Role role.Role
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bus: %s (role=%s): %v", e.Kind, e.Role, e.Err)
	}
	return fmt.Sprintf("bus: %s (role=%s)", e.Kind, e.Role)
}

func (e *Error) Unwrap() error { return e.Err }
