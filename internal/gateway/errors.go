package gateway

import (
	"errors"
	"fmt"
)

// Op names the gateway call that failed
type Op string

const (
	OpPlan     Op = "plan"
	OpGenerate Op = "generate"
)

// Kind classifies a gateway failure for the retry policy
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindInvalidResponse Kind = "invalid_response"
	KindProviderError   Kind = "provider_error"
)

// Error is returned by every gateway call. Raw holds the unparsed model
// output when the failure is a schema violation.
type Error struct {
	Op   Op
	Kind Kind
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator may retry the call once
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindInvalidResponse
}

// KindOf returns the kind of a gateway error, or "" for other errors
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// SchemaError describes why a response was rejected
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema violation: " + e.Reason
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Field, e.Reason)
}
