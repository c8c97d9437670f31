package orchestrator

import "strings"

// preferenceTools maps the first word of a successful command to the
// preference it reveals.
var preferenceTools = map[string]string{
	"npm":     "js_package_manager",
	"pnpm":    "js_package_manager",
	"yarn":    "js_package_manager",
	"bun":     "js_package_manager",
	"pip":     "python_package_manager",
	"pip3":    "python_package_manager",
	"uv":      "python_package_manager",
	"poetry":  "python_package_manager",
	"pipenv":  "python_package_manager",
	"docker":  "container_runtime",
	"podman":  "container_runtime",
	"make":    "build_tool",
	"cmake":   "build_tool",
	"ninja":   "build_tool",
	"gradle":  "jvm_build_tool",
	"mvn":     "jvm_build_tool",
	"git":     "vcs",
	"hg":      "vcs",
	"jj":      "vcs",
	"kubectl": "orchestration",
	"helm":    "orchestration",
}

// learnPreferences records tool choices visible in command
func learnPreferences(prefs map[string]string, command string) {
	if prefs == nil {
		return
	}
	for _, part := range strings.FieldsFunc(command, func(r rune) bool { return r == ';' || r == '&' || r == '|' }) {
		words := strings.Fields(part)
		for len(words) > 0 && (words[0] == "sudo" || strings.Contains(words[0], "=")) {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		if key, ok := preferenceTools[words[0]]; ok {
			prefs[key] = words[0]
		}
	}
}
