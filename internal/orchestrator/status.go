package orchestrator

import (
	"fmt"

	"github.com/codefionn/parsec/internal/session"
)

// StatusLine renders the one-line progress summary shown between prompts:
//
//	[<name>] Step <i>/<n> (<step status>) | Provider: <name> | Next: <action>
func StatusLine(conv *session.Conversation) string {
	var line string
	conv.View(func(c *session.Conversation) {
		n := len(c.Steps)
		i := c.CurrentStep + 1
		if i > n {
			i = n
		}
		status := string(c.State)
		if st := c.CurrentStepState(); st != nil && c.State == session.StatusInProgress {
			status = string(st.Status)
		}
		line = fmt.Sprintf("[%s] Step %d/%d (%s) | Provider: %s | Next: %s", c.Name, i, n, status, c.Provider, nextAction(c))
	})
	return line
}

// nextAction describes what the conversation waits for (lock held)
func nextAction(c *session.Conversation) string {
	switch c.State {
	case session.StatusPlanning:
		return "wait for plan"
	case session.StatusReady:
		return "confirm plan"
	case session.StatusInProgress:
	default:
		return "none"
	}

	st := c.CurrentStepState()
	if st == nil {
		return "none"
	}
	switch st.Status {
	case session.StepPending:
		return "generate command"
	case session.StepCommandSuggested:
		return "approve, alternative, skip or abort"
	case session.StepRunning:
		return "wait for command"
	case session.StepFailed:
		return "retry, skip or abort"
	}
	return "none"
}
