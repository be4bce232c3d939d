package cmdfilter

import (
	"path/filepath"
	"strings"
)

// SplitCommand splits a shell command line into the individual commands
// that will actually run: pipeline stages, &&/||/; chain links, the
// bodies of sh -c style invocations, and $(...)/backtick substitutions.
// Every returned command must pass the policy for the whole line to be
// allowed.
func SplitCommand(command string) []string {
	var commands []string
	var current strings.Builder
	var inSingle, inDouble bool
	var parenDepth int

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			commands = append(commands, s)
		}
		current.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\'' && !inDouble {
			inSingle = !inSingle
			current.WriteRune(c)
			continue
		}
		if c == '"' && !inSingle {
			inDouble = !inDouble
			current.WriteRune(c)
			continue
		}
		if inSingle || inDouble {
			current.WriteRune(c)
			continue
		}

		// Subshell groups stay attached to the command that owns them;
		// their contents are extracted separately below.
		if c == '(' {
			parenDepth++
			current.WriteRune(c)
			continue
		}
		if c == ')' {
			parenDepth--
			current.WriteRune(c)
			continue
		}
		if parenDepth > 0 {
			current.WriteRune(c)
			continue
		}

		switch c {
		case '|':
			flush()
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
		case '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				flush()
				i++
			} else {
				// Background operator stays with its command.
				current.WriteRune(c)
			}
		case ';':
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()

	var expanded []string
	for _, cmd := range commands {
		expanded = append(expanded, expandShellInvocation(cmd)...)
	}

	var all []string
	for _, cmd := range expanded {
		all = append(all, cmd)
		all = append(all, extractSubstitutions(cmd)...)
	}

	return all
}

// expandShellInvocation detects patterns like "bash -c 'cmd'" and
// extracts the inner command for checking. Both the outer invocation and
// the inner commands are returned.
func expandShellInvocation(command string) []string {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	tokens := tokenize(command)
	if len(tokens) < 3 {
		return []string{command}
	}

	switch baseName(tokens[0]) {
	case "sh", "bash", "zsh", "ksh", "dash", "fish":
	default:
		return []string{command}
	}

	// Look for a -c flag, possibly combined with others (-lc, -ic).
	for i := 1; i < len(tokens)-1; i++ {
		flag := tokens[i]
		if strings.HasPrefix(flag, "-") && strings.Contains(flag, "c") {
			result := []string{command}
			result = append(result, SplitCommand(tokens[i+1])...)
			return result
		}
	}

	return []string{command}
}

// extractSubstitutions pulls the bodies out of $(...) and `...`
// command substitutions so they are checked like any other command.
func extractSubstitutions(command string) []string {
	var found []string

	for i := 0; i < len(command); i++ {
		if command[i] == '$' && i+1 < len(command) && command[i+1] == '(' {
			depth := 1
			j := i + 2
			for ; j < len(command) && depth > 0; j++ {
				switch command[j] {
				case '(':
					depth++
				case ')':
					depth--
				}
			}
			if depth == 0 {
				inner := command[i+2 : j-1]
				found = append(found, SplitCommand(inner)...)
				i = j - 1
			}
			continue
		}

		if command[i] == '`' {
			if j := strings.IndexByte(command[i+1:], '`'); j >= 0 {
				inner := command[i+1 : i+1+j]
				found = append(found, SplitCommand(inner)...)
				i = i + 1 + j
			}
		}
	}

	return found
}

// tokenize splits a command string into tokens, respecting quotes.
func tokenize(command string) []string {
	var tokens []string
	var current strings.Builder
	var inSingle, inDouble bool

	for _, c := range command {
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case (c == ' ' || c == '\t') && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(c)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// normalize prepares a command for matching: leading environment
// assignments are skipped, the command word loses its directory prefix
// and any .exe suffix, and whitespace collapses to single spaces.
func normalize(command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}

	tokens := tokenize(command)
	if len(tokens) == 0 {
		return command
	}

	// Skip VAR=value assignments preceding the command word.
	start := 0
	for start < len(tokens)-1 && isAssignment(tokens[start]) {
		start++
	}
	tokens = tokens[start:]

	tokens[0] = baseName(tokens[0])

	return strings.Join(tokens, " ")
}

// baseName strips the directory prefix and a trailing .exe from a
// command word, so /usr/bin/git and C:\tools\git.exe both match "git".
func baseName(word string) string {
	word = filepath.Base(strings.ReplaceAll(word, `\`, `/`))
	if strings.HasSuffix(strings.ToLower(word), ".exe") {
		word = word[:len(word)-4]
	}
	return word
}

// isAssignment reports whether a token looks like VAR=value.
func isAssignment(token string) bool {
	i := strings.IndexByte(token, '=')
	if i <= 0 {
		return false
	}
	for _, c := range token[:i] {
		if c != '_' && !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
