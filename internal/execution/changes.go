package execution

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codefionn/parsec/internal/approval"
)

var installPattern = regexp.MustCompile(`\b(?:(?:apt|apt-get|dnf|yum|pacman|apk|brew|port|zypper|snap|choco|winget|scoop)\s+(?:-\S+\s+)*(?:install|add|-S)|cargo\s+install|npm\s+(?:install|i)\s+(?:-g|--global)|pipx?\s+install|go\s+install|rustup\s+(?:install|component\s+add)|sdk\s+install|asdf\s+install|mise\s+(?:use|install))\b`)

// simpleCommands returns the simple commands of command in order. A line
// that is already simple is returned as the only element.
func simpleCommands(command string) []string {
	parts := approval.SplitCommands(command)
	if len(parts) > 1 {
		return parts[1:]
	}
	return parts
}

// trackDirectory follows cd commands from cwd and returns the final
// directory. Targets that do not exist after the command are ignored.
func trackDirectory(command, cwd string) string {
	dir := cwd
	home, _ := os.UserHomeDir()

	for _, part := range simpleCommands(command) {
		words := strings.Fields(part)
		if len(words) == 0 || words[0] != "cd" {
			continue
		}

		target := home
		if len(words) > 1 {
			target = unquote(words[1])
		}
		switch {
		case target == "-" || target == "":
			continue
		case target == "~":
			target = home
		case strings.HasPrefix(target, "~/"):
			target = filepath.Join(home, target[2:])
		case strings.HasPrefix(target, "$HOME"):
			target = filepath.Join(home, strings.TrimPrefix(target, "$HOME"))
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			dir = filepath.Clean(target)
		}
	}
	return dir
}

type export struct {
	key   string
	value string
}

// parseExports returns variables set with export, in order
func parseExports(command string) []export {
	var out []export
	for _, part := range simpleCommands(command) {
		words := strings.Fields(part)
		if len(words) < 2 || words[0] != "export" {
			continue
		}
		for _, w := range words[1:] {
			if strings.HasPrefix(w, "-") {
				continue
			}
			key, value, ok := strings.Cut(w, "=")
			if !ok || key == "" {
				continue
			}
			out = append(out, export{key: key, value: unquote(value)})
		}
	}
	return out
}

// installsTools reports whether a command looks like it installs software
func installsTools(command string) bool {
	return installPattern.MatchString(command)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
