package llm

import "context"

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Messages     []*Message `json:"messages"`
	Temperature  float64    `json:"temperature"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	// JSONResponse asks providers that support it to constrain output to JSON
	JSONResponse bool `json:"json_response,omitempty"`
}

// Usage reports token consumption when the provider returns it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *Usage `json:"usage,omitempty"`
}

// Client is the interface for LLM clients
type Client interface {
	// CompleteWithRequest sends a completion request and returns the response
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}

func normalizeRole(role string) string {
	switch role {
	case "system", "assistant":
		return role
	case "model":
		return "assistant"
	default:
		return "user"
	}
}
