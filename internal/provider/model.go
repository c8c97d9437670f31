package provider

import (
	"context"

	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/llm"
)

// Model is a configured provider ready to serve gateway calls
type Model struct {
	name        string
	tokenLimit  int
	client      llm.Client
	temperature float64
}

// NewModel wraps an existing client, mainly for tests and custom wiring
func NewModel(name string, tokenLimit int, client llm.Client) *Model {
	return &Model{name: name, tokenLimit: tokenLimit, client: client}
}

// Name returns the registered provider name
func (m *Model) Name() string { return m.name }

// TokenLimit returns the context window used to cap payload budgets
func (m *Model) TokenLimit() int { return m.tokenLimit }

// Client exposes the underlying client for auxiliary uses such as naming
func (m *Model) Client() llm.Client { return m.client }

// Complete sends one system and one user message and returns the raw text
func (m *Model) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := m.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []*llm.Message{{Role: "user", Content: user}},
		Temperature:  m.temperature,
		MaxTokens:    consts.DefaultMaxTokens,
		JSONResponse: true,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
