package shell

import (
	"fmt"
	"strings"
)

// Quote quotes a slice of strings for shell execution.
func Quote(args []string) string {
	var quoted []string
	for _, arg := range args {
		quoted = append(quoted, QuoteSingle(arg))
	}
	return strings.Join(quoted, " ")
}

// QuoteSingle quotes a single string for shell execution.
func QuoteSingle(s string) string {
	if needsQuoting(s) {
		return fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", "'\\''"))
	}
	return s
}

// needsQuoting returns true if a string contains shell metacharacters.
func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' || c == '\'' ||
			c == '\\' || c == '$' || c == '`' || c == '!' || c == '*' ||
			c == '?' || c == '[' || c == ']' || c == '(' || c == ')' ||
			c == '{' || c == '}' || c == '<' || c == '>' || c == '|' ||
			c == '&' || c == ';' || c == '#' {
			return true
		}
	}
	return len(s) == 0
}
