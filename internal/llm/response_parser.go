package llm

import "strings"

// TrimCodeFence removes a single markdown code fence wrapping the whole
// response, with or without a language tag. Anything else is returned
// trimmed but otherwise untouched.
func TrimCodeFence(response string) string {
	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "```") || !strings.HasSuffix(response, "```") || len(response) < 6 {
		return response
	}

	inner := response[3 : len(response)-3]
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		tag := strings.TrimSpace(inner[:nl])
		if tag == "" || isFenceTag(tag) {
			inner = inner[nl+1:]
		}
	}
	if strings.Contains(inner, "```") {
		return response
	}
	return strings.TrimSpace(inner)
}

func isFenceTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
