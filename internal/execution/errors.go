package execution

import (
	"errors"
	"fmt"
)

// Kind classifies an execution failure
type Kind string

const (
	KindNonZeroExit  Kind = "non_zero_exit"
	KindSpawnFailure Kind = "spawn_failure"
	KindTimeout      Kind = "timeout"
)

// ErrEmptyCommand is wrapped by the spawn failure for blank commands
var ErrEmptyCommand = errors.New("empty command")

// Error is returned for every command that did not succeed. Execution
// failures are never retried by the coordinator.
type Error struct {
	Kind       Kind
	ExitStatus int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("command exited with status %d", e.ExitStatus)
	case KindTimeout:
		if e.Err != nil {
			return "command timed out: " + e.Err.Error()
		}
		return "command timed out"
	default:
		if e.Err != nil {
			return "failed to start command: " + e.Err.Error()
		}
		return "failed to start command"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an execution error, or "" for other errors
func KindOf(err error) Kind {
	var eerr *Error
	if errors.As(err, &eerr) {
		return eerr.Kind
	}
	return ""
}
