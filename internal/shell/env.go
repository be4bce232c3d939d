package shell

import (
	"os"
	"strings"
)

// DangerousEnvPrefixes lists environment variable prefixes that can be
// used to subvert library loading and are stripped before running
// commands.
//
// - LD_* (Linux): LD_PRELOAD, LD_LIBRARY_PATH can inject shared libraries
// - DYLD_* (macOS): DYLD_INSERT_LIBRARIES, DYLD_LIBRARY_PATH can inject dylibs
var DangerousEnvPrefixes = []string{
	"LD_",
	"DYLD_",
}

// DangerousEnvVars lists specific environment variables that are
// stripped regardless of prefix.
var DangerousEnvVars = []string{
	"IFS",
	"BASH_ENV",
	"ENV",
	"PERL5OPT",
	"PYTHONSTARTUP",
}

// HardenedEnv returns a copy of the current environment with dangerous
// variables removed.
func HardenedEnv() []string {
	return FilterDangerousEnv(os.Environ())
}

// FilterDangerousEnv filters dangerous environment variables from the
// given slice.
func FilterDangerousEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !isDangerousEnvVar(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func isDangerousEnvVar(entry string) bool {
	key := entry
	if idx := strings.Index(entry, "="); idx != -1 {
		key = entry[:idx]
	}

	for _, prefix := range DangerousEnvPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	for _, dangerous := range DangerousEnvVars {
		if key == dangerous {
			return true
		}
	}
	return false
}

// StrippedEnvVars returns the names of the variables FilterDangerousEnv
// would remove from env. Useful for debug logging.
func StrippedEnvVars(env []string) []string {
	var stripped []string
	for _, e := range env {
		if isDangerousEnvVar(e) {
			if idx := strings.Index(e, "="); idx != -1 {
				stripped = append(stripped, e[:idx])
			} else {
				stripped = append(stripped, e)
			}
		}
	}
	return stripped
}
