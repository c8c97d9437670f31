package approval

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Warning is one destructive-pattern match
type Warning struct {
	Rule    string
	Segment string
	Message string
}

type rule struct {
	name    string
	message string
	match   func(segment string, words []string) bool
}

var (
	forkBombPattern    = regexp.MustCompile(`([A-Za-z_:.][A-Za-z0-9_:.]*)\s*\(\)\s*\{([^}]*)\}`)
	blockDevicePattern = regexp.MustCompile(`(?:\bof=|>{1,2}\s*)/dev/(?:sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d+n\d+|mmcblk\d+|disk\d+|md\d+|dm-\d+|mapper/)`)
	mkfsPattern        = regexp.MustCompile(`^(?:sudo\s+)?(?:mkfs(?:\.[a-z0-9]+)?|mke2fs|mkswap|wipefs)\b`)
)

// Directories a recursive forced delete must not target, after the
// target is unquoted, home-expanded and cleaned
var protectedDirs = map[string]bool{
	"/": true, "/home": true, "/root": true, "/usr": true, "/etc": true,
	"/var": true, "/boot": true, "/bin": true, "/lib": true,
}

// homePlaceholder stands in for the invoking user's home directory
const homePlaceholder = "/home/~"

var builtinRules = []rule{
	{
		name:    "recursive-delete-root",
		message: "recursive forced deletion of the root or home directory",
		match:   matchRecursiveDelete,
	},
	{
		name:    "fork-bomb",
		message: "shell fork bomb",
		match: func(segment string, _ []string) bool {
			compact := strings.Join(strings.Fields(segment), "")
			if strings.Contains(compact, ":(){:|:&};:") {
				return true
			}
			for _, m := range forkBombPattern.FindAllStringSubmatch(segment, -1) {
				body := strings.Join(strings.Fields(m[2]), "")
				if strings.Contains(body, m[1]+"|"+m[1]+"&") {
					return true
				}
			}
			return false
		},
	},
	{
		name:    "raw-device-write",
		message: "raw write to a block device",
		match: func(segment string, _ []string) bool {
			return blockDevicePattern.MatchString(segment)
		},
	},
	{
		name:    "filesystem-create",
		message: "filesystem creation or wipe on a device",
		match: func(segment string, _ []string) bool {
			return mkfsPattern.MatchString(strings.TrimSpace(segment))
		},
	},
}

func matchRecursiveDelete(_ string, words []string) bool {
	i := 0
	for i < len(words) && (words[i] == "sudo" || words[i] == "command" || strings.Contains(words[i], "=")) {
		i++
	}
	if i >= len(words) || path.Base(words[i]) != "rm" {
		return false
	}

	var recursive, force bool
	var targets []string
	for _, w := range words[i+1:] {
		switch {
		case w == "--recursive":
			recursive = true
		case w == "--force":
			force = true
		case w == "--no-preserve-root" || w == "--":
		case strings.HasPrefix(w, "-") && !strings.HasPrefix(w, "--"):
			recursive = recursive || strings.ContainsAny(w, "rR")
			force = force || strings.Contains(w, "f")
		default:
			targets = append(targets, w)
		}
	}
	if !recursive || !force {
		return false
	}
	for _, t := range targets {
		if isProtectedTarget(t) {
			return true
		}
	}
	return false
}

// normalizeTarget unquotes t, expands the home forms and cleans the result.
// Trailing "/*" globs collapse to their directory.
func normalizeTarget(t string) string {
	t = strings.NewReplacer(`"`, "", "'", "").Replace(t)
	switch {
	case strings.HasPrefix(t, "${HOME}"):
		t = homePlaceholder + t[len("${HOME}"):]
	case strings.HasPrefix(t, "$HOME"):
		t = homePlaceholder + t[len("$HOME"):]
	case t == "~" || strings.HasPrefix(t, "~/"):
		t = homePlaceholder + t[1:]
	case strings.HasPrefix(t, "~"):
		t = "/home/" + t[1:]
	}
	if !strings.HasPrefix(t, "/") {
		return t
	}
	t = path.Clean(t)
	for strings.HasSuffix(t, "/*") {
		t = path.Dir(t)
	}
	return t
}

func isProtectedTarget(t string) bool {
	t = normalizeTarget(t)
	return protectedDirs[t] || (strings.HasPrefix(t, "/") && path.Dir(t) == "/home")
}

// Screener matches commands against the destructive pattern list
type Screener struct {
	rules []rule
	extra []*regexp.Regexp
}

// NewScreener compiles the built-in rules plus extra regular expressions
func NewScreener(extraPatterns []string) (*Screener, error) {
	s := &Screener{rules: builtinRules}
	for _, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid destructive pattern %q: %w", p, err)
		}
		s.extra = append(s.extra, re)
	}
	return s, nil
}

// Screen returns every destructive match in command, once per rule
func (s *Screener) Screen(command string) []Warning {
	var warnings []Warning
	hit := make(map[string]bool)

	for _, segment := range SplitCommands(command) {
		words := strings.Fields(segment)
		for _, r := range s.rules {
			if !hit[r.name] && r.match(segment, words) {
				hit[r.name] = true
				warnings = append(warnings, Warning{Rule: r.name, Segment: segment, Message: r.message})
			}
		}
		for _, re := range s.extra {
			name := "custom:" + re.String()
			if !hit[name] && re.MatchString(segment) {
				hit[name] = true
				warnings = append(warnings, Warning{Rule: name, Segment: segment, Message: "matches configured destructive pattern " + re.String()})
			}
		}
	}
	return warnings
}
