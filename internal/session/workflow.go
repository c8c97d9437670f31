package session

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	StatusPlanning   ConversationStatus = "planning"
	StatusReady      ConversationStatus = "ready"
	StatusInProgress ConversationStatus = "in_progress"
	StatusFinished   ConversationStatus = "finished"
	StatusAborted    ConversationStatus = "aborted"
	StatusError      ConversationStatus = "error"
)

// IsTerminal reports whether no further transition is allowed
func (s ConversationStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusAborted || s == StatusError
}

// StepStatus is the lifecycle state of a single workflow step
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepCommandSuggested StepStatus = "command_suggested"
	StepRunning          StepStatus = "running"
	StepComplete         StepStatus = "complete"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
)

// IsResolved reports whether the step counts as satisfied for completion
func (s StepStatus) IsResolved() bool {
	return s == StepComplete || s == StepSkipped
}

var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	StatusPlanning:   {StatusReady, StatusError, StatusAborted},
	StatusReady:      {StatusInProgress, StatusAborted},
	StatusInProgress: {StatusFinished, StatusAborted, StatusError},
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:          {StepCommandSuggested, StepComplete},
	StepCommandSuggested: {StepCommandSuggested, StepRunning, StepSkipped, StepComplete},
	StepRunning:          {StepComplete, StepFailed},
	StepFailed:           {StepCommandSuggested, StepComplete, StepSkipped},
}

// CanTransition reports whether a conversation may move from one status to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to ConversationStatus) bool {
	for _, next := range conversationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionStep reports whether a step may move from one status to another.
func CanTransitionStep(from, to StepStatus) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected state change
type TransitionError struct {
	Subject string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Subject, e.From, e.To)
}

// WorkflowStep is one entry of a plan
type WorkflowStep struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// WorkflowPlan is the ordered list of steps accepted from the planning call
type WorkflowPlan struct {
	Steps     []WorkflowStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
}

// Disposition records what happened to a candidate command
type Disposition string

const (
	DispositionPending   Disposition = "pending"
	DispositionRejected  Disposition = "rejected"
	DispositionSkipped   Disposition = "skipped"
	DispositionExecuted  Disposition = "executed"
	DispositionFailed    Disposition = "failed"
	DispositionDiscarded Disposition = "discarded"
)

// ExecutionFailure describes why an executed command did not succeed
type ExecutionFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CommandAttempt is one candidate command and its outcome
type CommandAttempt struct {
	Command     string            `json:"command"`
	Explanation string            `json:"explanation"`
	RiskScore   float64           `json:"risk_score"`
	Approved    bool              `json:"approved"`
	Executed    bool              `json:"executed"`
	ExitStatus  *int              `json:"exit_status,omitempty"`
	Stdout      TruncatedText     `json:"stdout"`
	Stderr      TruncatedText     `json:"stderr"`
	Error       *ExecutionFailure `json:"error,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Timestamp   time.Time         `json:"timestamp"`
	Disposition Disposition       `json:"disposition"`
}

// IsFinal reports whether the attempt can no longer be reviewed
func (a *CommandAttempt) IsFinal() bool {
	return a.Executed || a.Disposition != DispositionPending
}

// Candidate is a generated command not yet turned into an attempt
type Candidate struct {
	Command     string  `json:"command"`
	Explanation string  `json:"explanation"`
	RiskScore   float64 `json:"risk_score"`
}

// WorkflowStepState tracks a plan step through its lifecycle
type WorkflowStepState struct {
	Step         WorkflowStep      `json:"step"`
	Status       StepStatus        `json:"status"`
	Attempts     []*CommandAttempt `json:"attempts"`
	Alternatives []Candidate       `json:"alternatives,omitempty"`
	Artifacts    []string          `json:"artifacts,omitempty"`
	Note         string            `json:"note,omitempty"`
}

// Transition moves the step to a new status if the edge exists
func (s *WorkflowStepState) Transition(to StepStatus) error {
	if !CanTransitionStep(s.Status, to) {
		return &TransitionError{Subject: "step", From: string(s.Status), To: string(to)}
	}
	s.Status = to
	return nil
}

// PendingAttempt returns the attempt awaiting a decision, if any
func (s *WorkflowStepState) PendingAttempt() *CommandAttempt {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		if !s.Attempts[i].IsFinal() {
			return s.Attempts[i]
		}
	}
	return nil
}

// LastAttempt returns the most recent attempt or nil
func (s *WorkflowStepState) LastAttempt() *CommandAttempt {
	if len(s.Attempts) == 0 {
		return nil
	}
	return s.Attempts[len(s.Attempts)-1]
}

// RejectedCommands lists candidates the user turned down for this step
func (s *WorkflowStepState) RejectedCommands() []string {
	var out []string
	for _, a := range s.Attempts {
		if a.Disposition == DispositionRejected {
			out = append(out, a.Command)
		}
	}
	return out
}
