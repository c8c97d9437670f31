package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codefionn/parsec/internal/llm"
	"github.com/codefionn/parsec/internal/logger"
)

const (
	maxNameLength  = 40
	nameWordCount  = 4
	untitledName   = "Untitled Task"
	namePromptHint = 400
)

// NameGenerator produces short display names for conversations
type NameGenerator struct {
	client llm.Client
}

// NewNameGenerator creates a NameGenerator. A nil client always uses the
// word-based fallback.
func NewNameGenerator(client llm.Client) *NameGenerator {
	return &NameGenerator{client: client}
}

// GenerateName returns a display name for a prompt
func (g *NameGenerator) GenerateName(ctx context.Context, prompt string) string {
	if g == nil || g.client == nil || strings.TrimSpace(prompt) == "" {
		return FallbackName(prompt)
	}

	response, err := g.client.Complete(ctx, buildNamePrompt(prompt))
	if err != nil {
		logger.Warn("Failed to generate conversation name, using fallback: %v", err)
		return FallbackName(prompt)
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(llm.TrimCodeFence(response)), &result); err != nil {
		logger.Warn("Failed to parse conversation name response, using fallback: %v", err)
		return FallbackName(prompt)
	}

	name := strings.TrimSpace(result.Name)
	if name == "" {
		return FallbackName(prompt)
	}
	return truncateName(name)
}

func buildNamePrompt(prompt string) string {
	if len(prompt) > namePromptHint {
		prompt = prompt[:namePromptHint]
	}
	var sb strings.Builder
	sb.WriteString("Give this terminal task a short name of two to five words (maximum 40 characters).\n\n")
	sb.WriteString(fmt.Sprintf("Task:\n%s\n\n", prompt))
	sb.WriteString("Respond with ONLY a JSON object in this exact format (no markdown, no code blocks):\n")
	sb.WriteString(`{"name": "your name here"}`)
	return sb.String()
}

// FallbackName builds a name from the first four words of the prompt
func FallbackName(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return untitledName
	}
	if len(words) > nameWordCount {
		words = words[:nameWordCount]
	}

	name := strings.Join(words, " ")
	r, size := utf8.DecodeRuneInString(name)
	name = strings.ToUpper(string(r)) + name[size:]
	return truncateName(name)
}

func truncateName(name string) string {
	if utf8.RuneCountInString(name) <= maxNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxNameLength-3]) + "..."
}
