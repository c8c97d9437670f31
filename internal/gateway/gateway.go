// Package gateway turns context payloads into model calls with fixed
// request and response schemas.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/session"
)

// Provider is the capability a model backend offers the gateway
type Provider interface {
	Name() string
	TokenLimit() int
	Complete(ctx context.Context, system, user string) (string, error)
}

// StepCommands is a validated step-generation response
type StepCommands struct {
	Commands []session.Candidate
	Done     bool
	Raw      string
}

// Gateway validates every model exchange against its schema
type Gateway struct {
	provider Provider
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// New creates a gateway. A zero timeout leaves deadlines to the caller.
func New(provider Provider, timeout time.Duration) *Gateway {
	return &Gateway{
		provider: provider,
		timeout:  timeout,
		log:      logger.Global().WithPrefix("gateway"),
		now:      time.Now,
	}
}

// ProviderName returns the registered name of the backing provider
func (g *Gateway) ProviderName() string { return g.provider.Name() }

// TokenLimit returns the provider's context window
func (g *Gateway) TokenLimit() int { return g.provider.TokenLimit() }

// Plan requests a workflow plan. prompt fills the payload's user_prompt
// when the assembler left it empty.
func (g *Gateway) Plan(ctx context.Context, prompt string, payload *PlanningRequest) (*session.WorkflowPlan, error) {
	if payload == nil {
		payload = &PlanningRequest{}
	}
	req := *payload
	if req.UserPrompt == "" {
		req.UserPrompt = prompt
	}

	raw, err := g.call(ctx, OpPlan, planningSystemPrompt, &req)
	if err != nil {
		return nil, err
	}

	descriptions, err := parsePlan(raw)
	if err != nil {
		g.log.Warn("rejected plan response: %v", err)
		return nil, &Error{Op: OpPlan, Kind: KindInvalidResponse, Raw: raw, Err: err}
	}

	plan := &session.WorkflowPlan{
		Steps:     make([]session.WorkflowStep, len(descriptions)),
		CreatedAt: g.now(),
	}
	for i, desc := range descriptions {
		plan.Steps[i] = session.WorkflowStep{ID: fmt.Sprintf("step-%d", i+1), Description: desc}
	}
	g.log.Info("accepted plan with %d steps", len(plan.Steps))
	return plan, nil
}

// GenerateStepCommands requests candidate commands for the step at stepIndex
func (g *Gateway) GenerateStepCommands(ctx context.Context, payload *StepRequest, stepIndex int) (*StepCommands, error) {
	if payload == nil {
		return nil, &Error{Op: OpGenerate, Kind: KindProviderError, Err: errors.New("missing step payload")}
	}

	raw, err := g.call(ctx, OpGenerate, stepSystemPrompt, payload)
	if err != nil {
		return nil, err
	}

	parsed, done, err := parseCommands(raw)
	if err != nil {
		g.log.Warn("rejected command response for step %d: %v", stepIndex+1, err)
		return nil, &Error{Op: OpGenerate, Kind: KindInvalidResponse, Raw: raw, Err: err}
	}

	out := &StepCommands{Done: done, Raw: raw, Commands: make([]session.Candidate, 0, len(parsed))}
	for _, p := range parsed {
		out.Commands = append(out.Commands, session.Candidate{
			Command:     p.command,
			Explanation: p.explanation,
			RiskScore:   RiskScore(p.command),
		})
	}
	g.log.Debug("step %d: %d candidates, done=%t", stepIndex+1, len(out.Commands), done)
	return out, nil
}

func (g *Gateway) call(ctx context.Context, op Op, system string, body any) (string, error) {
	user, err := json.Marshal(body)
	if err != nil {
		return "", &Error{Op: op, Kind: KindProviderError, Err: fmt.Errorf("encode request: %w", err)}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := g.provider.Complete(callCtx, system, string(user))
	if err != nil {
		// The caller's own cancellation is not a timeout.
		if ctx.Err() != nil {
			return "", &Error{Op: op, Kind: KindProviderError, Err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return "", &Error{Op: op, Kind: KindTimeout, Err: err}
		}
		return "", &Error{Op: op, Kind: KindProviderError, Err: err}
	}
	g.log.Debug("%s call to %s took %s", op, g.provider.Name(), time.Since(start))
	return raw, nil
}
