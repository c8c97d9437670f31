//go:build !cgo

package approval

import "strings"

// SplitCommands breaks a shell line into simple commands using a lexical
// split on list and pipeline operators (tree-sitter needs CGo).
func SplitCommands(command string) []string {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	return splitFallback(command)
}
