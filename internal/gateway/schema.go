package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/llm"
)

// PlanningRequest is the fixed request body of the planning call
type PlanningRequest struct {
	UserPrompt          string   `json:"user_prompt"`
	SessionContext      []string `json:"session_context"`
	ConversationHistory []string `json:"conversation_history"`
	Preferences         []string `json:"preferences"`
	Notes               []string `json:"notes,omitempty"`
}

// StepRequest is the fixed request body of the step-generation call.
// ErrorContext is serialized as null when there is no active error.
type StepRequest struct {
	Conversation       []string `json:"conversation"`
	Workflow           []string `json:"workflow"`
	CurrentStep        []string `json:"current_step"`
	ExecutionHistory   []string `json:"execution_history"`
	CurrentEnvironment []string `json:"current_environment"`
	ErrorContext       *string  `json:"error_context"`
	RejectedCommands   []string `json:"rejected_commands,omitempty"`
	Notes              []string `json:"notes,omitempty"`
}

type planResponse struct {
	Steps *[]planResponseStep `json:"steps"`
}

type planResponseStep struct {
	Description *string `json:"description"`
}

type commandResponse struct {
	Commands *[]commandResponseItem `json:"commands"`
	Done     *bool                  `json:"done"`
}

type commandResponseItem struct {
	Command     *string `json:"command"`
	Explanation *string `json:"explanation"`
}

// decodeStrict decodes exactly one JSON value into v, rejecting unknown
// fields and trailing content. A single wrapping code fence is tolerated.
func decodeStrict(raw string, v any) error {
	body := llm.TrimCodeFence(raw)
	if body == "" {
		return &SchemaError{Reason: "empty response"}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &SchemaError{Reason: err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &SchemaError{Reason: "trailing content after JSON value"}
	}
	return nil
}

func parsePlan(raw string) ([]string, error) {
	var resp planResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Steps == nil {
		return nil, &SchemaError{Field: "steps", Reason: "required"}
	}

	steps := *resp.Steps
	if len(steps) == 0 || len(steps) > consts.MaxPlanSteps {
		return nil, &SchemaError{Field: "steps", Reason: fmt.Sprintf("expected 1-%d steps, got %d", consts.MaxPlanSteps, len(steps))}
	}

	out := make([]string, 0, len(steps))
	for i, s := range steps {
		field := fmt.Sprintf("steps[%d].description", i)
		if s.Description == nil {
			return nil, &SchemaError{Field: field, Reason: "required"}
		}
		desc := strings.TrimSpace(*s.Description)
		if desc == "" {
			return nil, &SchemaError{Field: field, Reason: "empty"}
		}
		out = append(out, desc)
	}
	return out, nil
}

type parsedCommand struct {
	command     string
	explanation string
}

func parseCommands(raw string) ([]parsedCommand, bool, error) {
	var resp commandResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return nil, false, err
	}
	if resp.Commands == nil {
		return nil, false, &SchemaError{Field: "commands", Reason: "required"}
	}
	if resp.Done == nil {
		return nil, false, &SchemaError{Field: "done", Reason: "required"}
	}

	items := *resp.Commands
	if len(items) == 0 && !*resp.Done {
		return nil, false, &SchemaError{Field: "commands", Reason: "empty while done is false"}
	}

	out := make([]parsedCommand, 0, len(items))
	for i, item := range items {
		if item.Command == nil || strings.TrimSpace(*item.Command) == "" {
			return nil, false, &SchemaError{Field: fmt.Sprintf("commands[%d].command", i), Reason: "required"}
		}
		if item.Explanation == nil || strings.TrimSpace(*item.Explanation) == "" {
			return nil, false, &SchemaError{Field: fmt.Sprintf("commands[%d].explanation", i), Reason: "required"}
		}
		out = append(out, parsedCommand{
			command:     strings.TrimSpace(*item.Command),
			explanation: strings.TrimSpace(*item.Explanation),
		})
	}
	return out, *resp.Done, nil
}
