package provider

import (
	"context"
	"testing"

	"github.com/codefionn/parsec/internal/config"
	"github.com/codefionn/parsec/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	model string
	req   *llm.CompletionRequest
}

func (s *stubClient) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.req = req
	return &llm.CompletionResponse{Content: `{"steps":[]}`}, nil
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

func (s *stubClient) GetModelName() string { return s.model }

func newTestRegistry(env map[string]string) *Registry {
	r := NewRegistry()
	r.getenv = func(k string) string { return env[k] }
	return r
}

func TestSelectPrecedence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider = "anthropic"

	tests := []struct {
		name     string
		explicit string
		env      string
		cfg      *config.Config
		want     string
	}{
		{"explicit wins", "openai", "groq", cfg, "openai"},
		{"environment over config", "", "groq", cfg, "groq"},
		{"persisted config", "", "", cfg, "anthropic"},
		{"default", "", "", config.DefaultConfig(), DefaultProvider},
		{"nil config", "", "", nil, DefaultProvider},
		{"alias", "gemini", "", nil, "google"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(map[string]string{config.EnvProvider: tt.env})
			got, err := r.Select(tt.explicit, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectUnknownProvider(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.Select("nope", nil)
	assert.Error(t, err)
}

func TestCreateUsesConfigOverrides(t *testing.T) {
	r := newTestRegistry(nil)
	stub := &stubClient{}
	var gotModel, gotKey, gotURL string
	r.Register(Spec{Name: "fake", Backend: BackendOpenAI, DefaultModel: "m1", BaseURL: "http://x", TokenLimit: 1000},
		func(ctx context.Context, spec Spec, apiKey, model, baseURL string) (llm.Client, error) {
			gotModel, gotKey, gotURL = model, apiKey, baseURL
			stub.model = model
			return stub, nil
		})

	cfg := config.DefaultConfig()
	pc := cfg.ProviderSettings("fake")
	pc.APIKey = "k"
	pc.Model = "m2"
	pc.TokenLimit = 500

	m, err := r.Create(context.Background(), "fake", cfg)
	require.NoError(t, err)
	assert.Equal(t, "fake", m.Name())
	assert.Equal(t, 500, m.TokenLimit())
	assert.Equal(t, "m2", gotModel)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "http://x", gotURL)

	out, err := m.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, out)
	require.NotNil(t, stub.req)
	assert.Equal(t, "system", stub.req.SystemPrompt)
	assert.True(t, stub.req.JSONResponse)
}

func TestCreateRequiresAPIKey(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.Create(context.Background(), "anthropic", config.DefaultConfig())
	assert.Error(t, err)
}

func TestCreateLocalProviderWithoutKey(t *testing.T) {
	r := newTestRegistry(nil)
	m, err := r.Create(context.Background(), "ollama", config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 8192, m.TokenLimit())
}

func TestOpenAICompatibleNeedsBaseURL(t *testing.T) {
	r := newTestRegistry(map[string]string{"OPENAI_COMPATIBLE_API_KEY": "k"})
	_, err := r.Create(context.Background(), "openai-compatible", config.DefaultConfig())
	assert.Error(t, err)
}
