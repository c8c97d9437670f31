// Package approval is the human consent checkpoint in front of every
// command execution.
package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/session"
)

// Choice is the user's answer to a presented candidate
type Choice string

const (
	ChoiceApprove     Choice = "approve"
	ChoiceAlternative Choice = "alternative"
	ChoiceSkip        Choice = "skip"
	ChoiceAbort       Choice = "abort"
	ChoiceRetry       Choice = "retry"
)

var (
	// ErrAttemptFinalized is returned when a decided or executed attempt is presented again
	ErrAttemptFinalized = errors.New("command attempt already finalized")
	// ErrInvalidChoice is returned when a prompter answers outside the allowed set
	ErrInvalidChoice = errors.New("invalid choice")
)

// Review is what the user sees for one candidate
type Review struct {
	StepIndex       int
	StepCount       int
	StepDescription string
	Command         string
	Explanation     string
	RiskScore       float64
	Warnings        []Warning
}

// Destructive reports whether the command matched a destructive pattern
func (r *Review) Destructive() bool { return len(r.Warnings) > 0 }

// Prompter collects decisions from a human
type Prompter interface {
	// Choose returns one of approve, alternative, skip or abort
	Choose(ctx context.Context, review *Review) (Choice, error)
	// ConfirmDestructive asks for the second confirmation after a
	// destructive warning. It cannot be skipped.
	ConfirmDestructive(ctx context.Context, review *Review) (bool, error)
	// Recover returns one of retry, skip or abort after a failed execution
	Recover(ctx context.Context, failure *FailureReview) (Choice, error)
}

// FailureReview describes a failed execution awaiting a decision
type FailureReview struct {
	StepIndex       int
	StepCount       int
	StepDescription string
	Command         string
	ExitStatus      *int
	Message         string
	Stderr          string
	// RetryAllowed is false once the step ran out of attempts
	RetryAllowed bool
}

// Gate screens candidates and asks the prompter for a decision
type Gate struct {
	screener *Screener
	log      *logger.Logger
}

// NewGate creates a gate with the built-in patterns plus extras
func NewGate(extraPatterns []string) (*Gate, error) {
	screener, err := NewScreener(extraPatterns)
	if err != nil {
		return nil, err
	}
	return &Gate{screener: screener, log: logger.Global().WithPrefix("approval")}, nil
}

// Screen exposes the destructive-pattern check
func (g *Gate) Screen(command string) []Warning {
	return g.screener.Screen(command)
}

// Prepare builds the review for attempt. Finalized attempts are rejected.
func (g *Gate) Prepare(attempt session.CommandAttempt, stepIndex, stepCount int, description string) (*Review, error) {
	if attempt.IsFinal() {
		return nil, ErrAttemptFinalized
	}
	review := &Review{
		StepIndex:       stepIndex,
		StepCount:       stepCount,
		StepDescription: description,
		Command:         attempt.Command,
		Explanation:     attempt.Explanation,
		RiskScore:       attempt.RiskScore,
		Warnings:        g.screener.Screen(attempt.Command),
	}
	if review.Destructive() {
		g.log.Warn("destructive command presented: %q (%s)", attempt.Command, review.Warnings[0].Rule)
	}
	return review, nil
}

// Review presents review and returns exactly one choice. An approval of a
// destructive command only stands after ConfirmDestructive says yes;
// otherwise the user is asked again.
func (g *Gate) Review(ctx context.Context, review *Review, p Prompter) (Choice, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		choice, err := p.Choose(ctx, review)
		if err != nil {
			return "", err
		}

		switch choice {
		case ChoiceAlternative, ChoiceSkip, ChoiceAbort:
			return choice, nil
		case ChoiceApprove:
			if !review.Destructive() {
				return choice, nil
			}
			ok, err := p.ConfirmDestructive(ctx, review)
			if err != nil {
				return "", err
			}
			if ok {
				g.log.Info("destructive command confirmed twice: %q", review.Command)
				return choice, nil
			}
			g.log.Info("destructive command not confirmed, asking again")
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
		}
	}
}

// Recover asks how to continue after a failed execution. Retry is refused
// when the failure review does not allow it.
func (g *Gate) Recover(ctx context.Context, failure *FailureReview, p Prompter) (Choice, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	choice, err := p.Recover(ctx, failure)
	if err != nil {
		return "", err
	}
	switch choice {
	case ChoiceSkip, ChoiceAbort:
		return choice, nil
	case ChoiceRetry:
		if failure.RetryAllowed {
			return choice, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
}
