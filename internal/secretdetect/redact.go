// Package secretdetect removes credentials from command output and
// environment snapshots before they are stored or sent to a model.
package secretdetect

import (
	"regexp"
	"strings"
)

// Placeholder replaces every detected secret
const Placeholder = "[REDACTED]"

// Redactor finds and masks secrets
type Redactor struct {
	patterns []pattern
}

// NewRedactor returns a redactor with the default patterns plus extra
// regular expressions.
func NewRedactor(extra ...*regexp.Regexp) *Redactor {
	r := &Redactor{patterns: append([]pattern(nil), defaultPatterns...)}
	for _, re := range extra {
		if re != nil {
			r.patterns = append(r.patterns, pattern{name: "custom:" + re.String(), re: re})
		}
	}
	return r
}

// Redact masks every match and reports the names of the patterns that hit
func (r *Redactor) Redact(text string) (string, []string) {
	if text == "" {
		return text, nil
	}
	var hits []string
	for _, p := range r.patterns {
		if !p.re.MatchString(text) {
			continue
		}
		hits = append(hits, p.name)
		text = p.re.ReplaceAllString(text, Placeholder)
	}
	return text, hits
}

// RedactBytes is Redact for captured process output
func (r *Redactor) RedactBytes(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	out, hits := r.Redact(string(b))
	if len(hits) == 0 {
		return b
	}
	return []byte(out)
}

// IsSensitiveKey reports whether an environment variable name suggests a credential
func IsSensitiveKey(name string) bool {
	upper := strings.ToUpper(name)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(upper, frag) {
			return true
		}
	}
	return false
}

// FilterEnvironment returns a copy of env without sensitive variables and
// with secret-looking values masked.
func (r *Redactor) FilterEnvironment(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if IsSensitiveKey(k) {
			continue
		}
		masked, _ := r.Redact(v)
		out[k] = masked
	}
	return out
}
