// Package pathnorm expands and canonicalizes user-supplied path strings.
package pathnorm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// InvalidPathError is returned when a raw path string cannot be
// normalized into a canonical filesystem path.
type InvalidPathError struct {
	Raw    string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Raw, e.Reason)
}

// Options control canonicalization behavior.
type Options struct {
	// ResolveSymlinks resolves symbolic links on the longest existing
	// prefix of the path. Matching resolved paths against resolved zones
	// closes the symlink-out-of-zone hole.
	ResolveSymlinks bool
}

var percentToken = regexp.MustCompile(`%([^%]+)%`)

// Expand expands environment placeholders in a path string.
// Supported forms: %VAR% (Windows style), $VAR and ${VAR} (Unix style),
// and a leading ~ for the user home directory. Unknown %VAR% tokens are
// left verbatim so callers can surface them in error messages.
func Expand(path string) string {
	if path == "" {
		return path
	}

	path = percentToken.ReplaceAllStringFunc(path, func(m string) string {
		if v, ok := os.LookupEnv(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})

	path = os.ExpandEnv(path)

	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			path = home + path[1:]
		}
	}

	return path
}

// Normalize expands environment placeholders and returns an absolute,
// cleaned path. It is a pure function of the input and the environment
// snapshot: no filesystem writes, and idempotent on already-canonical
// paths.
func Normalize(raw string, opts Options) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &InvalidPathError{Raw: raw, Reason: "empty path"}
	}
	if strings.ContainsRune(raw, 0) {
		return "", &InvalidPathError{Raw: raw, Reason: "contains NUL byte"}
	}

	abs, err := filepath.Abs(Expand(raw))
	if err != nil {
		return "", &InvalidPathError{Raw: raw, Reason: err.Error()}
	}
	abs = filepath.Clean(abs)

	if opts.ResolveSymlinks {
		abs = resolveExistingPrefix(abs)
	}

	return abs, nil
}

// resolveExistingPrefix resolves symlinks on the longest prefix of path
// that exists on disk. The non-existent suffix is reattached unchanged so
// that paths for files about to be created still normalize.
func resolveExistingPrefix(path string) string {
	prefix := path
	var suffix []string

	for {
		resolved, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			if len(suffix) == 0 {
				return resolved
			}
			parts := make([]string, 0, len(suffix)+1)
			parts = append(parts, resolved)
			for i := len(suffix) - 1; i >= 0; i-- {
				parts = append(parts, suffix[i])
			}
			return filepath.Join(parts...)
		}

		parent := filepath.Dir(prefix)
		if parent == prefix {
			// Walked all the way up without finding an existing prefix.
			return path
		}
		suffix = append(suffix, filepath.Base(prefix))
		prefix = parent
	}
}
