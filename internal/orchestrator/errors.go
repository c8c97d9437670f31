package orchestrator

import (
	"errors"
	"fmt"

	"github.com/codefionn/parsec/internal/session"
)

var (
	// ErrBusy is returned when a conversation already has a call in flight
	ErrBusy = errors.New("conversation has an operation in flight")
	// ErrAborted is returned when an abort overtook the operation; its
	// result has been discarded
	ErrAborted = errors.New("conversation aborted")
	// ErrRetryLimit is returned when a step has used all its attempts.
	// Skip and abort remain available.
	ErrRetryLimit = errors.New("step reached its attempt limit")
	// ErrNoPendingAttempt is returned when a decision needs a candidate but none is waiting
	ErrNoPendingAttempt = errors.New("no command awaiting a decision")
	// ErrNotConfirmed is returned when a destructive command is approved
	// without its second confirmation
	ErrNotConfirmed = errors.New("destructive command needs a second confirmation")
)

// StateError reports an operation that is not valid in the current state
type StateError struct {
	Op     string
	Status session.ConversationStatus
	Step   session.StepStatus
}

func (e *StateError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s not allowed: conversation %s, step %s", e.Op, e.Status, e.Step)
	}
	return fmt.Sprintf("%s not allowed: conversation %s", e.Op, e.Status)
}
