// Package orchestrator drives a conversation from its prompt through
// planning, per-step command generation, approval and execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/parsec/internal/approval"
	"github.com/codefionn/parsec/internal/assembler"
	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/execution"
	"github.com/codefionn/parsec/internal/gateway"
	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/session"
)

// ModelGateway is the part of the gateway the orchestrator calls
type ModelGateway interface {
	ProviderName() string
	TokenLimit() int
	Plan(ctx context.Context, prompt string, payload *gateway.PlanningRequest) (*session.WorkflowPlan, error)
	GenerateStepCommands(ctx context.Context, payload *gateway.StepRequest, stepIndex int) (*gateway.StepCommands, error)
}

// CommandRunner executes approved commands
type CommandRunner interface {
	Run(ctx context.Context, command, workingDir string) (*execution.Result, error)
}

// Options holds workflow policy
type Options struct {
	// MaxAttemptsPerStep caps executed attempts per step; retry is refused beyond it
	MaxAttemptsPerStep int
	// PrefetchAlternatives keeps the extra candidates of a response and
	// serves alternatives from them before calling the model again
	PrefetchAlternatives bool
	// ModelRetries is how often a timed out or invalid model call is
	// repeated. Zero means the default, negative disables retries.
	ModelRetries int
	RetryBackoff time.Duration
}

// DefaultOptions returns the built-in policy
func DefaultOptions() Options {
	return Options{
		MaxAttemptsPerStep: consts.DefaultMaxRetries,
		ModelRetries:       consts.ModelCallRetries,
		RetryBackoff:       500 * time.Millisecond,
	}
}

// Decision answers the attempt at Steps[Step].Attempts[Attempt]
type Decision struct {
	Choice  approval.Choice
	Step    int
	Attempt int
	Reason  string
	// Confirmed carries the second confirmation a destructive command
	// needs before it may run
	Confirmed bool
}

// Orchestrator owns the conversation state machine. Every operation takes
// the session and conversation explicitly; one orchestrator can serve many
// conversations, each of which runs at most one operation at a time.
type Orchestrator struct {
	gateway   ModelGateway
	assembler *assembler.Assembler
	runner    CommandRunner
	gate      *approval.Gate
	opts      Options
	log       *logger.Logger

	mu      sync.Mutex
	flights map[string]context.CancelFunc
}

// New creates an orchestrator
func New(gw ModelGateway, asm *assembler.Assembler, runner CommandRunner, gate *approval.Gate, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxAttemptsPerStep <= 0 {
		opts.MaxAttemptsPerStep = def.MaxAttemptsPerStep
	}
	switch {
	case opts.ModelRetries == 0:
		opts.ModelRetries = def.ModelRetries
	case opts.ModelRetries < 0:
		opts.ModelRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	return &Orchestrator{
		gateway:   gw,
		assembler: asm,
		runner:    runner,
		gate:      gate,
		opts:      opts,
		log:       logger.Global().WithPrefix("orchestrator"),
		flights:   make(map[string]context.CancelFunc),
	}
}

// ProviderName returns the name of the model provider in use
func (o *Orchestrator) ProviderName() string { return o.gateway.ProviderName() }

// startFlight registers an operation for conv. The returned context is
// cancelled by Abort.
func (o *Orchestrator) startFlight(ctx context.Context, conv *session.Conversation) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.flights[conv.ID]; busy {
		return nil, nil, ErrBusy
	}
	fctx, cancel := context.WithCancel(ctx)
	o.flights[conv.ID] = cancel
	return fctx, func() {
		o.mu.Lock()
		delete(o.flights, conv.ID)
		o.mu.Unlock()
		cancel()
	}, nil
}

// InFlight reports whether conv has an outstanding operation
func (o *Orchestrator) InFlight(conv *session.Conversation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.flights[conv.ID]
	return ok
}

// Plan requests the workflow plan: Planning -> Ready, or Error when the
// model keeps failing.
func (o *Orchestrator) Plan(ctx context.Context, sess *session.Session, conv *session.Conversation) error {
	ctx, done, err := o.startFlight(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	var (
		payload  *gateway.PlanningRequest
		prompt   string
		stateErr error
	)
	conv.View(func(c *session.Conversation) {
		if c.State != session.StatusPlanning {
			stateErr = &StateError{Op: "plan", Status: c.State}
			return
		}
		prompt = c.Prompt
		var res assembler.Result
		payload, res = o.assembler.BuildPlanning(sess, c, o.gateway.TokenLimit())
		if res.Truncated {
			o.log.Warn("planning context for %s truncated to %d tokens", c.ID, res.Budget)
		}
	})
	if stateErr != nil {
		return stateErr
	}

	var plan *session.WorkflowPlan
	callErr := o.callModel(ctx, gateway.OpPlan, func(ctx context.Context) error {
		var err error
		plan, err = o.gateway.Plan(ctx, prompt, payload)
		return err
	})

	var result error
	err = conv.Update(func(c *session.Conversation) error {
		if c.State != session.StatusPlanning {
			c.AddEvent(session.EventResponseDiscarded, -1, map[string]string{"op": string(gateway.OpPlan)})
			result = ErrAborted
			return nil
		}
		if callErr != nil {
			if ctx.Err() != nil {
				result = ctx.Err()
				return nil
			}
			o.fail(c, -1, callErr)
			result = callErr
			return nil
		}
		if err := c.SetPlan(plan); err != nil {
			return err
		}
		if err := c.TransitionTo(session.StatusReady); err != nil {
			return err
		}
		c.AddEvent(session.EventWorkflowPlanned, -1, map[string]string{"steps": strconv.Itoa(len(plan.Steps))})
		o.log.Info("conversation %s planned with %d steps", c.ID, len(plan.Steps))
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

// Begin starts the workflow after the user accepted the plan
func (o *Orchestrator) Begin(conv *session.Conversation) error {
	if o.InFlight(conv) {
		return ErrBusy
	}
	return conv.Update(func(c *session.Conversation) error {
		if err := c.TransitionTo(session.StatusInProgress); err != nil {
			return err
		}
		c.CurrentStep = 0
		c.AddEvent(session.EventWorkflowStarted, 0, nil)
		return nil
	})
}

// Suggest generates the first candidate for the current pending step. A
// response that reports the step done without commands completes it.
func (o *Orchestrator) Suggest(ctx context.Context, sess *session.Session, conv *session.Conversation) error {
	ctx, done, err := o.startFlight(ctx, conv)
	if err != nil {
		return err
	}
	defer done()
	return o.generate(ctx, sess, conv, session.StepPending)
}

// generate asks the model for commands for the current step, which must be
// in one of the allowed states.
func (o *Orchestrator) generate(ctx context.Context, sess *session.Session, conv *session.Conversation, allowed ...session.StepStatus) error {
	var (
		payload *gateway.StepRequest
		index   int
		served  bool
	)
	err := conv.Update(func(c *session.Conversation) error {
		st, err := currentStep(c, "generate", allowed...)
		if err != nil {
			return err
		}
		index = c.CurrentStep
		if o.opts.PrefetchAlternatives && st.Status == session.StepCommandSuggested && len(st.Alternatives) > 0 {
			next := st.Alternatives[0]
			st.Alternatives = st.Alternatives[1:]
			o.suggest(c, index, next)
			served = true
			return nil
		}
		var res assembler.Result
		payload, res = o.assembler.BuildStep(sess, c, o.gateway.TokenLimit())
		if res.Truncated {
			o.log.Warn("step %d context for %s truncated to %d tokens", index+1, c.ID, res.Budget)
		}
		return nil
	})
	if err != nil || served {
		return err
	}

	var resp *gateway.StepCommands
	callErr := o.callModel(ctx, gateway.OpGenerate, func(ctx context.Context) error {
		var err error
		resp, err = o.gateway.GenerateStepCommands(ctx, payload, index)
		return err
	})

	var result error
	err = conv.Update(func(c *session.Conversation) error {
		if c.State != session.StatusInProgress || c.CurrentStep != index {
			c.AddEvent(session.EventResponseDiscarded, index, map[string]string{"op": string(gateway.OpGenerate)})
			o.log.Info("discarding late step %d response for %s", index+1, c.ID)
			result = ErrAborted
			return nil
		}
		if callErr != nil {
			if ctx.Err() != nil {
				result = ctx.Err()
				return nil
			}
			o.fail(c, index, callErr)
			result = callErr
			return nil
		}

		st := c.Steps[index]
		if len(resp.Commands) == 0 {
			if err := st.Transition(session.StepComplete); err != nil {
				return err
			}
			st.Note = "completed without a command"
			o.completeStep(sess, c, index, nil)
			return nil
		}
		o.suggest(c, index, resp.Commands[0])
		st.Alternatives = nil
		if o.opts.PrefetchAlternatives {
			st.Alternatives = append([]session.Candidate(nil), resp.Commands[1:]...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

// suggest records cand as the pending attempt of step index (lock held)
func (o *Orchestrator) suggest(c *session.Conversation, index int, cand session.Candidate) {
	st := c.Steps[index]
	if prev := st.PendingAttempt(); prev != nil {
		prev.Disposition = session.DispositionDiscarded
	}
	st.Attempts = append(st.Attempts, &session.CommandAttempt{
		Command:     cand.Command,
		Explanation: cand.Explanation,
		RiskScore:   cand.RiskScore,
		Timestamp:   time.Now(),
		Disposition: session.DispositionPending,
	})
	if st.Status != session.StepCommandSuggested {
		_ = st.Transition(session.StepCommandSuggested)
	}
	c.AddEvent(session.EventCommandSuggested, index, map[string]string{"command": cand.Command})
}

// Decide applies the user's answer. Approving an attempt that already ran
// is a no-op.
func (o *Orchestrator) Decide(ctx context.Context, sess *session.Session, conv *session.Conversation, d Decision) error {
	if d.Choice == approval.ChoiceAbort {
		reason := d.Reason
		if reason == "" {
			reason = "aborted by user"
		}
		return o.Abort(conv, reason)
	}

	ctx, done, err := o.startFlight(ctx, conv)
	if err != nil {
		return err
	}
	defer done()

	switch d.Choice {
	case approval.ChoiceApprove:
		return o.approve(ctx, sess, conv, d)
	case approval.ChoiceAlternative:
		return o.alternative(ctx, sess, conv, d)
	case approval.ChoiceSkip:
		return o.skip(sess, conv, d)
	case approval.ChoiceRetry:
		return o.retry(ctx, sess, conv, d)
	}
	return fmt.Errorf("%w: %q", approval.ErrInvalidChoice, d.Choice)
}

// target resolves the attempt a decision refers to (lock held)
func target(c *session.Conversation, d Decision) (*session.WorkflowStepState, *session.CommandAttempt, error) {
	if d.Step < 0 || d.Step >= len(c.Steps) {
		return nil, nil, &StateError{Op: string(d.Choice), Status: c.State}
	}
	st := c.Steps[d.Step]
	if d.Attempt < 0 || d.Attempt >= len(st.Attempts) {
		return nil, nil, ErrNoPendingAttempt
	}
	return st, st.Attempts[d.Attempt], nil
}

// pendingTarget is target restricted to the current step's pending attempt (lock held)
func pendingTarget(c *session.Conversation, d Decision) (*session.WorkflowStepState, *session.CommandAttempt, error) {
	st, at, err := target(c, d)
	if err != nil {
		return nil, nil, err
	}
	if at.IsFinal() {
		return nil, nil, approval.ErrAttemptFinalized
	}
	if c.State != session.StatusInProgress || d.Step != c.CurrentStep || st.Status != session.StepCommandSuggested {
		return nil, nil, &StateError{Op: string(d.Choice), Status: c.State, Step: st.Status}
	}
	return st, at, nil
}

func (o *Orchestrator) approve(ctx context.Context, sess *session.Session, conv *session.Conversation, d Decision) error {
	var (
		command string
		dir     string
		noop    bool
	)
	err := conv.Update(func(c *session.Conversation) error {
		if _, at, err := target(c, d); err == nil && at.Executed {
			noop = true
			return nil
		}
		st, at, err := pendingTarget(c, d)
		if err != nil {
			return err
		}
		if !d.Confirmed {
			if warnings := o.gate.Screen(at.Command); len(warnings) > 0 {
				return fmt.Errorf("%w: %s", ErrNotConfirmed, warnings[0].Message)
			}
		}
		if err := st.Transition(session.StepRunning); err != nil {
			return err
		}
		at.Approved = true
		command = at.Command
		dir = sess.Context().WorkingDirectory
		return nil
	})
	if err != nil {
		return err
	}
	if noop {
		o.log.Debug("attempt %d of step %d already executed, ignoring approval", d.Attempt+1, d.Step+1)
		return nil
	}

	res, runErr := o.runner.Run(ctx, command, dir)

	var result error
	err = conv.Update(func(c *session.Conversation) error {
		st := c.Steps[d.Step]
		at := st.Attempts[d.Attempt]
		recordExecution(at, res, runErr)

		if c.State != session.StatusInProgress {
			// The output stays on the attempt; nothing else is applied.
			_ = st.Transition(session.StepFailed)
			c.AddEvent(session.EventResponseDiscarded, d.Step, map[string]string{"op": "execute"})
			result = ErrAborted
			return nil
		}
		if runErr != nil {
			if err := st.Transition(session.StepFailed); err != nil {
				return err
			}
			c.AddEvent(session.EventCommandFailed, d.Step, map[string]string{"command": at.Command, "error": runErr.Error()})
			o.log.Info("step %d of %s failed: %v", d.Step+1, c.ID, runErr)
			return nil
		}

		if err := st.Transition(session.StepComplete); err != nil {
			return err
		}
		changes := execution.EffectiveChanges(sess.Context(), res.Changes)
		for i := range changes {
			changes[i].StepIndex = d.Step
		}
		sess.ApplyChanges(changes)
		c.Summary.EnvironmentChanges = append(c.Summary.EnvironmentChanges, changes...)

		st.Artifacts = append([]string(nil), res.Artifacts...)
		for _, path := range res.Artifacts {
			info, err := os.Stat(filepath.Join(dir, path))
			c.Summary.GeneratedArtifacts = append(c.Summary.GeneratedArtifacts, session.Artifact{
				Path:      path,
				StepIndex: d.Step,
				IsDir:     err == nil && info.IsDir(),
			})
		}
		c.AddEvent(session.EventCommandExecuted, d.Step, map[string]string{"command": at.Command, "exit_status": "0"})
		o.completeStep(sess, c, d.Step, at)
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

// recordExecution fills in the outcome of an executed attempt (lock held)
func recordExecution(at *session.CommandAttempt, res *execution.Result, err error) {
	at.Executed = true
	if res != nil {
		exit := res.ExitStatus
		at.ExitStatus = &exit
		at.Stdout = res.Stdout
		at.Stderr = res.Stderr
		at.Duration = res.Duration
	}
	if err == nil {
		at.Disposition = session.DispositionExecuted
		return
	}
	kind := string(execution.KindOf(err))
	if kind == "" {
		kind = "cancelled"
	}
	at.Disposition = session.DispositionFailed
	at.Error = &session.ExecutionFailure{Kind: kind, Message: err.Error()}
}

func (o *Orchestrator) alternative(ctx context.Context, sess *session.Session, conv *session.Conversation, d Decision) error {
	err := conv.Update(func(c *session.Conversation) error {
		_, at, err := pendingTarget(c, d)
		if err != nil {
			return err
		}
		at.Disposition = session.DispositionRejected
		c.AddEvent(session.EventCommandRejected, d.Step, map[string]string{"command": at.Command})
		return nil
	})
	if err != nil {
		return err
	}
	return o.generate(ctx, sess, conv, session.StepCommandSuggested)
}

func (o *Orchestrator) skip(sess *session.Session, conv *session.Conversation, d Decision) error {
	return conv.Update(func(c *session.Conversation) error {
		if d.Step < 0 || d.Step >= len(c.Steps) {
			return &StateError{Op: "skip", Status: c.State}
		}
		st := c.Steps[d.Step]
		if c.State != session.StatusInProgress || d.Step != c.CurrentStep {
			return &StateError{Op: "skip", Status: c.State, Step: st.Status}
		}
		switch st.Status {
		case session.StepCommandSuggested:
			if at := st.PendingAttempt(); at != nil {
				at.Disposition = session.DispositionSkipped
			}
		case session.StepFailed:
		default:
			return &StateError{Op: "skip", Status: c.State, Step: st.Status}
		}
		if err := st.Transition(session.StepSkipped); err != nil {
			return err
		}
		c.Summary.SkippedSteps = append(c.Summary.SkippedSteps, st.Step.Description)
		c.AddEvent(session.EventStepSkipped, d.Step, nil)
		o.advance(sess, c)
		return nil
	})
}

func (o *Orchestrator) retry(ctx context.Context, sess *session.Session, conv *session.Conversation, d Decision) error {
	err := conv.Update(func(c *session.Conversation) error {
		st, err := currentStep(c, "retry", session.StepFailed)
		if err != nil {
			return err
		}
		if d.Step != c.CurrentStep {
			return &StateError{Op: "retry", Status: c.State, Step: st.Status}
		}
		if executedAttempts(st) >= o.opts.MaxAttemptsPerStep {
			return ErrRetryLimit
		}
		return nil
	})
	if err != nil {
		return err
	}
	return o.generate(ctx, sess, conv, session.StepFailed)
}

// Abort ends a non-terminal conversation immediately and cancels its
// outstanding call, whose result will be discarded.
func (o *Orchestrator) Abort(conv *session.Conversation, reason string) error {
	err := conv.Update(func(c *session.Conversation) error {
		if err := c.TransitionTo(session.StatusAborted); err != nil {
			return err
		}
		index := -1
		if st := c.CurrentStepState(); st != nil {
			index = c.CurrentStep
			if at := st.PendingAttempt(); at != nil {
				at.Disposition = session.DispositionDiscarded
			}
		}
		c.Failure = &session.FailureRecord{Op: "abort", Kind: "aborted", Message: reason, StepIndex: index, At: time.Now()}
		c.AddEvent(session.EventConversationAborted, index, map[string]string{"reason": reason})
		return nil
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	cancel := o.flights[conv.ID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.log.Info("conversation %s aborted: %s", conv.ID, reason)
	return nil
}

// completeStep records the achievement of a finished step and advances (lock held)
func (o *Orchestrator) completeStep(sess *session.Session, c *session.Conversation, index int, at *session.CommandAttempt) {
	st := c.Steps[index]
	achievement := st.Step.Description
	if at != nil {
		achievement += ": " + at.Command
		learnPreferences(c.Summary.LearnedPreferences, at.Command)
	}
	c.Summary.KeyAchievements = append(c.Summary.KeyAchievements, achievement)
	c.AddEvent(session.EventStepCompleted, index, nil)
	o.advance(sess, c)
}

// advance moves past resolved steps and finishes the conversation when
// none are left (lock held).
func (o *Orchestrator) advance(sess *session.Session, c *session.Conversation) {
	for c.CurrentStep < len(c.Steps) && c.Steps[c.CurrentStep].Status.IsResolved() {
		c.CurrentStep++
	}
	if !c.AllStepsResolved() {
		return
	}
	if err := c.TransitionTo(session.StatusFinished); err != nil {
		o.log.Warn("cannot finish %s: %v", c.ID, err)
		return
	}
	c.Summary.Finalized = true
	c.UpdatedAt = time.Now()
	c.AddEvent(session.EventConversationDone, -1, nil)
	sess.AddDigest(c.Digest())
	o.log.Info("conversation %s finished", c.ID)
}

// fail moves the conversation to Error and keeps the cause (lock held)
func (o *Orchestrator) fail(c *session.Conversation, stepIndex int, err error) {
	rec := &session.FailureRecord{Message: err.Error(), StepIndex: stepIndex, At: time.Now()}
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		rec.Op = string(gerr.Op)
		rec.Kind = string(gerr.Kind)
		rec.Raw = gerr.Raw
	}
	if terr := c.TransitionTo(session.StatusError); terr != nil {
		o.log.Warn("cannot record failure for %s: %v", c.ID, terr)
		return
	}
	c.Failure = rec
	c.AddEvent(session.EventConversationFailed, stepIndex, map[string]string{"error": err.Error()})
	o.log.Error("conversation %s failed: %v", c.ID, err)
}

// currentStep returns the current step if the conversation is in progress
// and the step is in one of the allowed states (lock held).
func currentStep(c *session.Conversation, op string, allowed ...session.StepStatus) (*session.WorkflowStepState, error) {
	st := c.CurrentStepState()
	if c.State != session.StatusInProgress || st == nil {
		return nil, &StateError{Op: op, Status: c.State}
	}
	for _, s := range allowed {
		if st.Status == s {
			return st, nil
		}
	}
	return nil, &StateError{Op: op, Status: c.State, Step: st.Status}
}

func executedAttempts(st *session.WorkflowStepState) int {
	n := 0
	for _, at := range st.Attempts {
		if at.Executed {
			n++
		}
	}
	return n
}
