package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalProviderName(t *testing.T) {
	tests := map[string]string{
		" Gemini ":  "google",
		"googleai":  "google",
		"CLAUDE":    "anthropic",
		"mistralai": "mistral",
		"moonshot":  "kimi",
		"groq":      "groq",
		"unknown":   "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalProviderName(in), in)
	}
}

func TestAPIKeyLookupOrder(t *testing.T) {
	google, _ := NewRegistry().Spec("google")

	tests := []struct {
		name       string
		configured string
		env        map[string]string
		wantKey    string
		wantSource string
	}{
		{"configured key wins", " cfg-key ", map[string]string{"GEMINI_API_KEY": "env-key"}, "cfg-key", "config"},
		{"first variable wins", "", map[string]string{"GEMINI_API_KEY": "gemini", "GOOGLE_API_KEY": "google"}, "gemini", "GEMINI_API_KEY"},
		{"later variable used", "", map[string]string{"GOOGLE_GENAI_API_KEY": "genai"}, "genai", "GOOGLE_GENAI_API_KEY"},
		{"blank variable skipped", "", map[string]string{"GEMINI_API_KEY": "  ", "GOOGLE_API_KEY": "google"}, "google", "GOOGLE_API_KEY"},
		{"nothing set", "", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, source := newTestRegistry(tt.env).apiKey(google, tt.configured)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}
