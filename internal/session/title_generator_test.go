package session

import (
	"context"
	"errors"
	"testing"

	"github.com/codefionn/parsec/internal/llm"
)

// MockLLMClient is a mock implementation of llm.Client for testing
type MockLLMClient struct {
	response string
	err      error
	calls    int
}

func (m *MockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *MockLLMClient) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	content, err := m.Complete(ctx, "")
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (m *MockLLMClient) GetModelName() string {
	return "mock-model"
}

func TestFallbackName(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		expected string
	}{
		{
			name:     "first four words",
			prompt:   "initialize a new rust crate with MIT license",
			expected: "Initialize a new rust",
		},
		{
			name:     "short prompt",
			prompt:   "run tests",
			expected: "Run tests",
		},
		{
			name:     "empty prompt",
			prompt:   "   ",
			expected: "Untitled Task",
		},
		{
			name:     "long words truncated",
			prompt:   "supercalifragilistic expialidocious antidisestablishmentarianism floccinaucinihilipilification",
			expected: "Supercalifragilistic expialidocious a...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FallbackName(tt.prompt)
			if result != tt.expected {
				t.Errorf("FallbackName(%q) = %q, want %q", tt.prompt, result, tt.expected)
			}
			if len([]rune(result)) > maxNameLength {
				t.Errorf("name %q exceeds %d characters", result, maxNameLength)
			}
		})
	}
}

func TestGenerateNameWithLLM(t *testing.T) {
	client := &MockLLMClient{response: "```json\n{\"name\": \"Rust crate setup\"}\n```"}
	gen := NewNameGenerator(client)

	got := gen.GenerateName(context.Background(), "Initialize a new Rust crate with MIT license and run tests")
	if got != "Rust crate setup" {
		t.Errorf("GenerateName() = %q, want %q", got, "Rust crate setup")
	}
}

func TestGenerateNameFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		client *MockLLMClient
	}{
		{"llm error", &MockLLMClient{err: errors.New("boom")}},
		{"invalid json", &MockLLMClient{response: "not json"}},
		{"empty name", &MockLLMClient{response: `{"name": ""}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewNameGenerator(tt.client)
			got := gen.GenerateName(context.Background(), "deploy the staging cluster now")
			if got != "Deploy the staging cluster" {
				t.Errorf("GenerateName() = %q, want fallback", got)
			}
		})
	}
}

func TestGenerateNameNilClient(t *testing.T) {
	gen := NewNameGenerator(nil)
	if got := gen.GenerateName(context.Background(), ""); got != "Untitled Task" {
		t.Errorf("GenerateName() = %q, want Untitled Task", got)
	}
}
