package executor

import "fmt"

// ErrorKind classifies an Error.
type ErrorKind string

const (
	KindSpawnFailed ErrorKind = "spawn_failed"
	KindTimeout     ErrorKind = "timeout"
	KindNonZeroExit ErrorKind = "non_zero_exit"
)

// Error is the typed failure surface of Run (spec.md §4.2). A non-zero
// exit is not fatal on its own; the caller (the Workflow Engine) decides
// whether to continue to the reviewer.
type Error struct {
	Kind           ErrorKind
	Details        string
	CapturedStderr string
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor: %s: %s", e.Kind, e.Details)
}
