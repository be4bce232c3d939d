// Package cmdfilter evaluates shell and SSH command lines against the
// configured deny and allow policies.
//
// The two modes are deliberately asymmetric. Local commands run on the
// operator's own machine and default to permissive-with-exceptions: a
// denylist blocks known-dangerous patterns. Remote commands run on a
// third-party host and default to restrictive: only allowlisted
// commands may run.
//
// Matching is literal (normalized prefix and case-insensitive
// substring). It can be fooled by quoting, encoding, or aliasing; that
// limitation is inherited from the policy this implements and is a
// documented boundary, not a guarantee.
package cmdfilter

import (
	"fmt"
	"strings"

	"github.com/corral-sh/corral/internal/config"
)

// Mode selects which policy applies to a command.
type Mode int

const (
	// Local commands execute in a shell on this machine.
	Local Mode = iota
	// Remote commands execute on another host over SSH.
	Remote
)

func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "local"
}

// Reason is a machine-readable denial code.
type Reason string

const (
	ReasonBlockedPattern Reason = "BlockedPattern"
	ReasonNotAllowlisted Reason = "NotAllowlisted"
)

// Decision is the result of evaluating a command line.
type Decision struct {
	Allowed bool
	Reason  Reason
	Pattern string // the policy pattern that matched, for BlockedPattern
	Detail  string
}

var permit = Decision{Allowed: true}

// Evaluate checks a command line against the policy for the given mode.
// Pipelines, chains, subshells, and sh -c bodies are split and every
// sub-command must pass.
func Evaluate(command string, mode Mode, cfg *config.Config) Decision {
	if cfg == nil {
		cfg = config.Default()
	}

	for _, sub := range SplitCommand(command) {
		var d Decision
		if mode == Remote {
			d = evaluateRemote(sub, cfg)
		} else {
			d = evaluateLocal(sub, cfg)
		}
		if !d.Allowed {
			return d
		}
	}

	return permit
}

// evaluateLocal checks a single command against the local denylist.
// Explicit allow prefixes take precedence over deny entries.
func evaluateLocal(command string, cfg *config.Config) Decision {
	command = strings.TrimSpace(command)
	if command == "" {
		return permit
	}

	normalized := normalize(command)

	for _, allow := range cfg.Command.Allow {
		if matchesPrefix(normalized, allow) {
			return permit
		}
	}

	for _, deny := range cfg.Command.Deny {
		if matchesDeny(normalized, deny) {
			return blocked(command, deny, false)
		}
	}

	if cfg.Command.UseDefaultDeniedCommands() {
		for _, deny := range config.DefaultDeniedCommands {
			if matchesDeny(normalized, deny) {
				return blocked(command, deny, true)
			}
		}
	}

	return permit
}

// evaluateRemote checks a single command against the SSH policy:
// denied commands first, then the allowlist (unless allowAllCommands
// flips the filter into denylist mode).
func evaluateRemote(command string, cfg *config.Config) Decision {
	command = strings.TrimSpace(command)
	if command == "" {
		return permit
	}

	normalized := normalize(command)

	for _, deny := range cfg.SSH.DeniedCommands {
		if matchesDeny(normalized, deny) {
			return blocked(command, deny, false)
		}
	}
	if cfg.SSH.InheritDeny {
		for _, deny := range cfg.Command.Deny {
			if matchesDeny(normalized, deny) {
				return blocked(command, deny, false)
			}
		}
	}

	if cfg.SSH.AllowAllCommands {
		return permit
	}

	leading := leadingWord(normalized)
	for _, allow := range cfg.SSH.AllowedCommands {
		entry := normalize(strings.TrimSpace(allow))
		if entry == "" {
			continue
		}
		if matchesPrefix(normalized, entry) || leading == entry {
			return permit
		}
	}

	return Decision{
		Reason: ReasonNotAllowlisted,
		Detail: fmt.Sprintf("remote command blocked: %q matches no allowlist entry", command),
	}
}

func blocked(command, pattern string, isDefault bool) Decision {
	detail := fmt.Sprintf("command blocked by policy: %q matches %q", command, pattern)
	if isDefault {
		detail = fmt.Sprintf("command blocked by default policy: %q matches %q", command, pattern)
	}
	return Decision{Reason: ReasonBlockedPattern, Pattern: pattern, Detail: detail}
}

// matchesDeny matches a denylist entry. Single-word entries match the
// command word only (so "cp" never fires inside "mcp" or an argument);
// multi-word entries like "dd if=" additionally match as a
// case-insensitive substring anywhere in the command line.
func matchesDeny(command, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if matchesPrefix(command, pattern) {
		return true
	}
	if strings.ContainsAny(pattern, " =") {
		return strings.Contains(strings.ToLower(command), strings.ToLower(pattern))
	}
	return false
}

// matchesPrefix checks if a command starts with the pattern followed by
// end of string or an argument boundary.
func matchesPrefix(command, pattern string) bool {
	pattern = normalize(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if command == pattern {
		return true
	}
	return strings.HasPrefix(command, pattern+" ")
}

// leadingWord returns the first token of a normalized command.
func leadingWord(command string) string {
	if i := strings.IndexAny(command, " \t"); i >= 0 {
		return command[:i]
	}
	return command
}
