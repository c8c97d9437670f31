// Package provider selects and constructs the language model backing the
// model gateway.
package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/codefionn/parsec/internal/config"
	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/llm"
	"github.com/codefionn/parsec/internal/logger"
)

// DefaultProvider is used when nothing else selects a provider
const DefaultProvider = "google"

// Backend identifies which SDK a provider is served by
type Backend string

const (
	BackendGoogle    Backend = "google"
	BackendAnthropic Backend = "anthropic"
	BackendOpenAI    Backend = "openai"
)

// Spec describes a known provider
type Spec struct {
	Name         string
	Backend      Backend
	DefaultModel string
	BaseURL      string
	TokenLimit   int
	// KeyEnv lists the environment variables that may hold the API key,
	// in lookup order
	KeyEnv []string
	// KeyOptional allows local endpoints without credentials
	KeyOptional bool
}

// Factory builds an llm.Client from resolved settings
type Factory func(ctx context.Context, spec Spec, apiKey, model, baseURL string) (llm.Client, error)

var builtinSpecs = []Spec{
	{Name: "google", Backend: BackendGoogle, DefaultModel: "gemini-2.5-flash", TokenLimit: 1000000,
		KeyEnv: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "GOOGLE_GENAI_API_KEY"}},
	{Name: "anthropic", Backend: BackendAnthropic, DefaultModel: "claude-sonnet-4-5", TokenLimit: 200000,
		KeyEnv: []string{"ANTHROPIC_API_KEY"}},
	{Name: "openai", Backend: BackendOpenAI, DefaultModel: "gpt-4.1-mini", TokenLimit: 128000,
		KeyEnv: []string{"OPENAI_API_KEY"}},
	{Name: "openrouter", Backend: BackendOpenAI, DefaultModel: "openrouter/auto", BaseURL: "https://openrouter.ai/api/v1", TokenLimit: 128000,
		KeyEnv: []string{"OPENROUTER_API_KEY"}},
	{Name: "groq", Backend: BackendOpenAI, DefaultModel: "llama-3.3-70b-versatile", BaseURL: "https://api.groq.com/openai/v1", TokenLimit: 128000,
		KeyEnv: []string{"GROQ_API_KEY"}},
	{Name: "mistral", Backend: BackendOpenAI, DefaultModel: "mistral-small-latest", BaseURL: "https://api.mistral.ai/v1", TokenLimit: 128000,
		KeyEnv: []string{"MISTRAL_API_KEY"}},
	{Name: "cerebras", Backend: BackendOpenAI, DefaultModel: "llama-3.3-70b", BaseURL: "https://api.cerebras.ai/v1", TokenLimit: 65536,
		KeyEnv: []string{"CEREBRAS_API_KEY"}},
	{Name: "kimi", Backend: BackendOpenAI, DefaultModel: "kimi-k2-0905-preview", BaseURL: "https://api.moonshot.ai/v1", TokenLimit: 128000,
		KeyEnv: []string{"MOONSHOT_API_KEY", "KIMI_API_KEY"}},
	{Name: "ollama", Backend: BackendOpenAI, DefaultModel: "llama3.2", BaseURL: "http://localhost:11434/v1", TokenLimit: 8192, KeyOptional: true,
		KeyEnv: []string{"OLLAMA_API_KEY"}},
	{Name: "openai-compatible", Backend: BackendOpenAI, TokenLimit: consts.DefaultTokenLimit,
		KeyEnv: []string{"OPENAI_COMPATIBLE_API_KEY", "OPENAI_API_KEY"}},
}

func defaultFactory(ctx context.Context, spec Spec, apiKey, model, baseURL string) (llm.Client, error) {
	switch spec.Backend {
	case BackendGoogle:
		return llm.NewGoogleAIClient(ctx, apiKey, model)
	case BackendAnthropic:
		return llm.NewAnthropicClient(apiKey, model, baseURL)
	case BackendOpenAI:
		return llm.NewOpenAIClient(apiKey, model, baseURL)
	default:
		return nil, fmt.Errorf("unsupported backend %q for provider %s", spec.Backend, spec.Name)
	}
}

// Registry maps provider names to their specs and factories
type Registry struct {
	mu        sync.RWMutex
	specs     map[string]Spec
	factories map[string]Factory
	getenv    func(string) string
}

// NewRegistry returns a registry with the built-in providers
func NewRegistry() *Registry {
	r := &Registry{
		specs:     make(map[string]Spec),
		factories: make(map[string]Factory),
		getenv:    os.Getenv,
	}
	for _, spec := range builtinSpecs {
		r.Register(spec, defaultFactory)
	}
	return r
}

// Register adds or replaces a provider
func (r *Registry) Register(spec Spec, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := canonicalProviderName(spec.Name)
	spec.Name = name
	r.specs[name] = spec
	r.factories[name] = factory
}

// Names returns the registered provider names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spec returns the registered provider description for name
func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[canonicalProviderName(name)]
	return spec, ok
}

// Select picks the provider name with precedence explicit selection,
// then PARSEC_PROVIDER, then the persisted config, then DefaultProvider.
func (r *Registry) Select(explicit string, cfg *config.Config) (string, error) {
	candidates := []struct {
		source string
		value  string
	}{
		{"flag", explicit},
		{"environment", r.getenv(config.EnvProvider)},
	}
	if cfg != nil {
		candidates = append(candidates, struct {
			source string
			value  string
		}{"config", cfg.Provider})
	}

	for _, c := range candidates {
		if strings.TrimSpace(c.value) == "" {
			continue
		}
		name := canonicalProviderName(c.value)
		if _, ok := r.Spec(name); !ok {
			return "", fmt.Errorf("unknown provider %q from %s (known: %s)", c.value, c.source, strings.Join(r.Names(), ", "))
		}
		logger.Debug("provider %s selected via %s", name, c.source)
		return name, nil
	}
	return DefaultProvider, nil
}

// Create builds the model for a provider using cfg for overrides
func (r *Registry) Create(ctx context.Context, name string, cfg *config.Config) (*Model, error) {
	name = canonicalProviderName(name)

	r.mu.RLock()
	spec, ok := r.specs[name]
	factory := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	settings := &config.ProviderConfig{}
	temperature := 0.0
	if cfg != nil {
		settings = cfg.ProviderSettings(name)
		temperature = cfg.Model.Temperature
	}

	model := firstNonEmpty(settings.Model, spec.DefaultModel)
	baseURL := firstNonEmpty(settings.BaseURL, spec.BaseURL)
	apiKey, source := r.apiKey(spec, settings.APIKey)
	if apiKey == "" && !spec.KeyOptional {
		return nil, fmt.Errorf("no API key for provider %s (set %s or providers.%s.api_key)",
			name, strings.Join(spec.KeyEnv, " or "), name)
	}
	if source != "" {
		logger.Debug("API key for %s taken from %s", name, source)
	}
	if spec.Backend == BackendOpenAI && baseURL == "" && name != "openai" {
		return nil, fmt.Errorf("base URL is required for provider %s", name)
	}

	client, err := factory(ctx, spec, apiKey, model, baseURL)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", name, err)
	}
	client = llm.NewRateLimitedClient(client, llm.IntervalForRPM(settings.RequestsPerMinute), 0)

	limit := spec.TokenLimit
	if settings.TokenLimit > 0 {
		limit = settings.TokenLimit
	}
	if limit <= 0 {
		limit = consts.DefaultTokenLimit
	}

	return &Model{
		name:        name,
		tokenLimit:  limit,
		client:      client,
		temperature: temperature,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
