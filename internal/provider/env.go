package provider

import "strings"

// aliases maps alternative spellings to registered provider names
var aliases = map[string]string{
	"googleai":  "google",
	"gemini":    "google",
	"claude":    "anthropic",
	"mistralai": "mistral",
	"moonshot":  "kimi",
}

func canonicalProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// apiKey returns the configured key for spec, otherwise the first non-empty
// variable of spec.KeyEnv. source names where the key came from.
func (r *Registry) apiKey(spec Spec, configured string) (key, source string) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, "config"
	}
	for _, name := range spec.KeyEnv {
		if v := strings.TrimSpace(r.getenv(name)); v != "" {
			return v, name
		}
	}
	return "", ""
}
