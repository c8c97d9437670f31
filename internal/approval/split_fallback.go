package approval

import "strings"

// splitFallback splits on ; & | newlines and $( outside of quotes. The
// whole line is returned first.
func splitFallback(command string) []string {
	out := []string{command}
	seen := map[string]bool{command: true}

	var cur strings.Builder
	flush := func() {
		part := strings.TrimSpace(cur.String())
		part = strings.Trim(part, "()`{} ")
		cur.Reset()
		if part != "" && !seen[part] {
			seen[part] = true
			out = append(out, part)
		}
	}

	var quote rune
	for i, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ';' || r == '&' || r == '|' || r == '\n' || r == '`':
			flush()
		case r == '$' && i+1 < len(command) && command[i+1] == '(':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
