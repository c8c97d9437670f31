package orchestrator

import (
	"context"
	"errors"

	"github.com/codefionn/parsec/internal/approval"
	"github.com/codefionn/parsec/internal/session"
)

// Prompter collects every decision Run needs from the user
type Prompter interface {
	approval.Prompter
	// ConfirmPlan asks whether to start the planned workflow
	ConfirmPlan(ctx context.Context, name string, plan session.WorkflowPlan) (bool, error)
}

// snapshot is a copy of what Run needs to choose the next operation
type snapshot struct {
	status       session.ConversationStatus
	name         string
	plan         session.WorkflowPlan
	stepIndex    int
	stepCount    int
	stepStatus   session.StepStatus
	description  string
	pending      *session.CommandAttempt
	pendingIndex int
	last         *session.CommandAttempt
	lastIndex    int
	executed     int
}

func takeSnapshot(conv *session.Conversation) snapshot {
	var s snapshot
	conv.View(func(c *session.Conversation) {
		s.status = c.State
		s.name = c.Name
		if c.Plan != nil {
			s.plan = *c.Plan
			s.plan.Steps = append([]session.WorkflowStep(nil), c.Plan.Steps...)
		}
		s.stepIndex = c.CurrentStep
		s.stepCount = len(c.Steps)
		st := c.CurrentStepState()
		if st == nil {
			return
		}
		s.stepStatus = st.Status
		s.description = st.Step.Description
		s.executed = executedAttempts(st)
		for i, at := range st.Attempts {
			cp := *at
			if !at.IsFinal() {
				s.pending, s.pendingIndex = &cp, i
			}
			s.last, s.lastIndex = &cp, i
		}
	})
	return s
}

// Run drives conv until it reaches a terminal state, asking p for every
// decision. A conversation that ends in Error returns nil; the cause is in
// its failure record. Errors from p and from ctx are returned as they are.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, conv *session.Conversation, p Prompter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		snap := takeSnapshot(conv)
		var err error
		switch snap.status {
		case session.StatusFinished, session.StatusAborted, session.StatusError:
			return nil
		case session.StatusPlanning:
			err = o.Plan(ctx, sess, conv)
		case session.StatusReady:
			var ok bool
			ok, err = p.ConfirmPlan(ctx, snap.name, snap.plan)
			if err != nil {
				return err
			}
			if !ok {
				return o.Abort(conv, "plan declined")
			}
			err = o.Begin(conv)
		case session.StatusInProgress:
			err = o.runStep(ctx, sess, conv, snap, p)
		}

		if err == nil {
			continue
		}
		if conv.Status().IsTerminal() {
			return nil
		}
		if errors.Is(err, approval.ErrInvalidChoice) {
			o.log.Warn("ignoring decision: %v", err)
			continue
		}
		return err
	}
}

func (o *Orchestrator) runStep(ctx context.Context, sess *session.Session, conv *session.Conversation, snap snapshot, p Prompter) error {
	switch snap.stepStatus {
	case session.StepPending:
		return o.Suggest(ctx, sess, conv)

	case session.StepRunning:
		// Left over from an interrupted process: the outcome is unknown.
		return o.interrupt(conv, snap.stepIndex)

	case session.StepCommandSuggested:
		if snap.pending == nil {
			// The replacement for a rejected candidate never arrived.
			fctx, done, err := o.startFlight(ctx, conv)
			if err != nil {
				return err
			}
			defer done()
			return o.generate(fctx, sess, conv, session.StepCommandSuggested)
		}
		review, err := o.gate.Prepare(*snap.pending, snap.stepIndex, snap.stepCount, snap.description)
		if err != nil {
			return err
		}
		choice, err := o.gate.Review(ctx, review, p)
		if err != nil {
			return err
		}
		return o.Decide(ctx, sess, conv, Decision{
			Choice:    choice,
			Step:      snap.stepIndex,
			Attempt:   snap.pendingIndex,
			Confirmed: choice == approval.ChoiceApprove && review.Destructive(),
		})

	case session.StepFailed:
		failure := &approval.FailureReview{
			StepIndex:       snap.stepIndex,
			StepCount:       snap.stepCount,
			StepDescription: snap.description,
			RetryAllowed:    snap.executed < o.opts.MaxAttemptsPerStep,
		}
		if at := snap.last; at != nil {
			failure.Command = at.Command
			failure.ExitStatus = at.ExitStatus
			failure.Stderr = at.Stderr.Content
			if at.Error != nil {
				failure.Message = at.Error.Message
			}
		}
		choice, err := o.gate.Recover(ctx, failure, p)
		if err != nil {
			return err
		}
		return o.Decide(ctx, sess, conv, Decision{Choice: choice, Step: snap.stepIndex, Attempt: snap.lastIndex})
	}
	return &StateError{Op: "run", Status: snap.status, Step: snap.stepStatus}
}

// interrupt marks a step that was running when the process stopped as failed
func (o *Orchestrator) interrupt(conv *session.Conversation, index int) error {
	if o.InFlight(conv) {
		return ErrBusy
	}
	return conv.Update(func(c *session.Conversation) error {
		st, err := currentStep(c, "resume", session.StepRunning)
		if err != nil || c.CurrentStep != index {
			return err
		}
		if at := st.LastAttempt(); at != nil && !at.Executed {
			at.Executed = true
			at.Disposition = session.DispositionFailed
			at.Error = &session.ExecutionFailure{Kind: "interrupted", Message: "execution was interrupted"}
		}
		if err := st.Transition(session.StepFailed); err != nil {
			return err
		}
		c.AddEvent(session.EventStepInterrupted, index, nil)
		return nil
	})
}
