package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

const defaultGoogleModel = "models/gemini-2.5-flash"

// GoogleGenAIClient implements the Client interface using the official Google GenAI SDK.
type GoogleGenAIClient struct {
	modelName string
	client    *genai.Client
}

// NewGoogleAIClient creates a Google GenAI client for the provided model.
func NewGoogleAIClient(ctx context.Context, apiKey, modelName string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("google genai client requires an API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google GenAI client: %w", err)
	}

	return &GoogleGenAIClient{
		modelName: normalizeGoogleModelName(modelName),
		client:    client,
	}, nil
}

func (c *GoogleGenAIClient) GetModelName() string {
	return c.modelName
}

func (c *GoogleGenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("google genai completion failed: %w", err)
	}
	return buildGenAICompletionResponse(resp).Content, nil
}

func (c *GoogleGenAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("google genai completion request cannot be nil")
	}

	contents := convertMessagesToGenAI(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("google genai completion requires at least one message")
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, buildGenAIGenerationConfig(req))
	if err != nil {
		return nil, fmt.Errorf("google genai completion failed: %w", err)
	}
	return buildGenAICompletionResponse(resp), nil
}

func convertMessagesToGenAI(messages []*Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if normalizeRole(msg.Role) == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

func buildGenAIGenerationConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	system := req.SystemPrompt
	for _, msg := range req.Messages {
		if msg != nil && normalizeRole(msg.Role) == "system" {
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
		}
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func buildGenAICompletionResponse(resp *genai.GenerateContentResponse) *CompletionResponse {
	if resp == nil || len(resp.Candidates) == 0 {
		stop := ""
		if resp != nil && resp.PromptFeedback != nil {
			stop = string(resp.PromptFeedback.BlockReason)
		}
		return &CompletionResponse{StopReason: stop}
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}

	out := &CompletionResponse{
		Content:    sb.String(),
		StopReason: string(candidate.FinishReason),
	}
	if resp.UsageMetadata != nil {
		out.Usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}

func normalizeGoogleModelName(modelName string) string {
	trimmed := strings.TrimSpace(modelName)
	if trimmed == "" {
		return defaultGoogleModel
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "models/") || strings.HasPrefix(lowered, "publishers/") {
		return trimmed
	}
	return "models/" + trimmed
}
