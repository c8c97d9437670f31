// Package classifier decides whether terminal input is a shell command or a
// natural-language prompt.
package classifier

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the routing decision for an input line
type Kind string

const (
	KindShell  Kind = "shell"
	KindPrompt Kind = "prompt"
)

// Metadata lists the signals that led to a classification
type Metadata struct {
	DetectedPatterns   []string `json:"detected_patterns"`
	LanguageIndicators []string `json:"language_indicators"`
}

// Classification is the result of classifying one input
type Classification struct {
	Kind       Kind     `json:"classification"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Metadata   Metadata `json:"metadata"`
}

// Classifier routes raw input
type Classifier interface {
	Classify(ctx context.Context, input string) Classification
}

var defaultShellCommands = []string{
	"ls", "cd", "pwd", "mkdir", "rm", "cp", "mv", "cat", "grep", "find", "git",
	"cargo", "npm", "python", "node", "curl", "wget", "ssh", "scp", "vim", "nano",
	"emacs", "docker", "kubectl", "make", "sudo", "chmod", "chown", "ps", "kill",
	"top", "htop", "df", "du", "tar", "unzip", "go", "echo", "export", "touch",
}

var defaultPromptIndicators = []string{
	"please", "how do i", "help me", "can you", "i need", "i want", "what is",
	"how to", "show me", "explain", "create a", "build a", "set up", "configure",
	"install", "initialize",
}

var questionStarts = []string{"what", "how", "why", "when", "where"}

// HeuristicClassifier classifies with word lists and surface patterns
type HeuristicClassifier struct {
	shellCommands    map[string]struct{}
	promptIndicators []string
}

// NewHeuristicClassifier creates a classifier with the built-in word lists
// plus any extra shell command names.
func NewHeuristicClassifier(extraCommands ...string) *HeuristicClassifier {
	cmds := make(map[string]struct{}, len(defaultShellCommands)+len(extraCommands))
	for _, c := range defaultShellCommands {
		cmds[c] = struct{}{}
	}
	for _, c := range extraCommands {
		if c = strings.TrimSpace(strings.ToLower(c)); c != "" {
			cmds[c] = struct{}{}
		}
	}
	return &HeuristicClassifier{
		shellCommands:    cmds,
		promptIndicators: defaultPromptIndicators,
	}
}

// Classify implements Classifier. Empty or whitespace-only input is shell.
func (h *HeuristicClassifier) Classify(_ context.Context, input string) Classification {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return Classification{
			Kind:       KindShell,
			Confidence: 1.0,
			Reasoning:  "empty input",
			Metadata:   Metadata{DetectedPatterns: []string{}, LanguageIndicators: []string{}},
		}
	}

	meta := Metadata{DetectedPatterns: []string{}, LanguageIndicators: []string{}}
	firstWord := strings.Fields(lower)[0]

	if _, ok := h.shellCommands[firstWord]; ok {
		meta.DetectedPatterns = append(meta.DetectedPatterns, "command:"+firstWord)
		return Classification{
			Kind:       KindShell,
			Confidence: 0.9,
			Reasoning:  fmt.Sprintf("starts with known command %q", firstWord),
			Metadata:   meta,
		}
	}

	for _, indicator := range h.promptIndicators {
		if strings.Contains(lower, indicator) {
			meta.LanguageIndicators = append(meta.LanguageIndicators, indicator)
		}
	}
	if len(meta.LanguageIndicators) > 0 {
		return Classification{
			Kind:       KindPrompt,
			Confidence: 0.8,
			Reasoning:  "contains natural language indicators",
			Metadata:   meta,
		}
	}

	if strings.Contains(lower, "?") {
		meta.LanguageIndicators = append(meta.LanguageIndicators, "?")
	}
	for _, q := range questionStarts {
		if strings.HasPrefix(lower, q) {
			meta.LanguageIndicators = append(meta.LanguageIndicators, q)
			break
		}
	}
	if len(meta.LanguageIndicators) > 0 {
		return Classification{
			Kind:       KindPrompt,
			Confidence: 0.75,
			Reasoning:  "phrased as a question",
			Metadata:   meta,
		}
	}

	switch {
	case strings.HasPrefix(firstWord, "./"), strings.HasPrefix(firstWord, "../"), strings.Contains(firstWord, "/"):
		meta.DetectedPatterns = append(meta.DetectedPatterns, "path")
	case strings.Contains(lower, " --"):
		meta.DetectedPatterns = append(meta.DetectedPatterns, "long_flag")
	case strings.Contains(lower, " -"):
		meta.DetectedPatterns = append(meta.DetectedPatterns, "flag")
	}
	if len(meta.DetectedPatterns) > 0 {
		return Classification{
			Kind:       KindShell,
			Confidence: 0.7,
			Reasoning:  "looks like a command invocation",
			Metadata:   meta,
		}
	}

	return Classification{
		Kind:       KindPrompt,
		Confidence: 0.5,
		Reasoning:  "no command pattern detected, treating as conversational input",
		Metadata:   meta,
	}
}
