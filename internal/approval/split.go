//go:build cgo

package approval

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
)

// SplitCommands breaks a shell line into the simple commands it runs,
// including those nested in pipelines, lists, subshells and command
// substitutions. Redirected statements are kept whole so that their
// redirection targets stay visible. The original text is always included.
func SplitCommands(command string) []string {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tree_sitter.NewLanguage(tree_sitter_bash.Language())); err != nil {
		return splitFallback(command)
	}

	source := []byte(command)
	tree := parser.Parse(source, nil)
	if tree == nil {
		return splitFallback(command)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return splitFallback(command)
	}

	seen := map[string]bool{command: true}
	out := []string{command}

	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}
		switch n.Kind() {
		case "command", "declaration_command", "redirected_statement", "function_definition":
			text := strings.TrimSpace(n.Utf8Text(source))
			if text != "" && !seen[text] {
				seen[text] = true
				out = append(out, text)
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	// A line the grammar could not make sense of still gets the lexical split.
	if root.HasError() {
		for _, part := range splitFallback(command) {
			if !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}
