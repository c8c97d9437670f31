package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codefionn/parsec/internal/llm"
	"github.com/codefionn/parsec/internal/logger"
)

// ModelClassifier asks a language model when the heuristic is unsure
type ModelClassifier struct {
	client    llm.Client
	fallback  *HeuristicClassifier
	threshold float64
}

// NewModelClassifier creates a classifier that consults client whenever the
// heuristic confidence is below threshold.
func NewModelClassifier(client llm.Client, fallback *HeuristicClassifier, threshold float64) *ModelClassifier {
	if fallback == nil {
		fallback = NewHeuristicClassifier()
	}
	return &ModelClassifier{client: client, fallback: fallback, threshold: threshold}
}

// Classify implements Classifier
func (m *ModelClassifier) Classify(ctx context.Context, input string) Classification {
	result := m.fallback.Classify(ctx, input)
	if m.client == nil || strings.TrimSpace(input) == "" || result.Confidence >= m.threshold {
		return result
	}

	resp, err := m.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:    []*llm.Message{{Role: "user", Content: buildClassificationPrompt(input)}},
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err != nil {
		logger.Warn("Model classification failed, using heuristic: %v", err)
		return result
	}

	parsed, err := parseClassification(resp.Content)
	if err != nil {
		logger.Warn("Model classification unparsable, using heuristic: %v", err)
		return result
	}
	parsed.Metadata.DetectedPatterns = append(result.Metadata.DetectedPatterns, "model")
	parsed.Metadata.LanguageIndicators = result.Metadata.LanguageIndicators
	return parsed
}

func buildClassificationPrompt(input string) string {
	var sb strings.Builder
	sb.WriteString("You classify terminal input. Decide whether the input is a shell command to run as-is ")
	sb.WriteString("or a natural language request describing a task.\n\n")
	sb.WriteString(fmt.Sprintf("Input: %s\n\n", input))
	sb.WriteString("Respond with ONLY a JSON object in this exact format (no markdown, no code blocks):\n")
	sb.WriteString(`{"classification": "shell" | "prompt", "confidence": 0.0-1.0, "reasoning": "short reason"}`)
	return sb.String()
}

func parseClassification(content string) (Classification, error) {
	var raw struct {
		Classification string  `json:"classification"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(llm.TrimCodeFence(content)), &raw); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}

	var kind Kind
	switch strings.ToLower(strings.TrimSpace(raw.Classification)) {
	case "shell":
		kind = KindShell
	case "prompt":
		kind = KindPrompt
	default:
		return Classification{}, fmt.Errorf("unknown classification %q", raw.Classification)
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Classification{Kind: kind, Confidence: confidence, Reasoning: raw.Reasoning}, nil
}
