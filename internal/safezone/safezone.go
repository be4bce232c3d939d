// Package safezone decides whether file operations are permitted under
// the configured safe-zone directories.
//
// Read operations are always allowed; write-class operations (write,
// move, delete, copy destination) are allowed only inside a zone. The
// decision is a pure function of the compiled Set and the canonical
// path, so a Set can be shared by any number of concurrent callers
// without locking.
package safezone

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/corral-sh/corral/internal/pathnorm"
)

// Op identifies the kind of file operation being authorized.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpCopyDest
	OpMove
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCopyDest:
		return "copy-destination"
	case OpMove:
		return "move"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Reason is a machine-readable denial code.
type Reason string

const (
	ReasonOutsideSafeZone Reason = "OutsideSafeZone"
	ReasonDeniedPattern   Reason = "DeniedPattern"
)

// Decision is the result of an authorization check. It is consumed
// immediately by the caller and never persisted.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

var allowed = Decision{Allowed: true}

// Policy configures Set compilation.
type Policy struct {
	// Zones are the safe-zone directories; entries may contain
	// environment placeholders and are canonicalized during Compile.
	Zones []string
	// DenyWrite are doublestar glob patterns that stay protected from
	// write-class operations even inside a zone.
	DenyWrite []string
	// ResolveSymlinks resolves symlinks before matching (both for zones
	// at compile time and for request paths if the caller normalizes
	// with the same option).
	ResolveSymlinks bool
	// CaseInsensitive overrides the per-platform default when non-nil.
	CaseInsensitive *bool
}

// Set is an immutable, compiled set of safe zones. Every zone path is
// canonical and carries a trailing separator, so a zone /home/user can
// never match /home/userx.
type Set struct {
	zones     []string // canonical, trailing separator
	denyGlobs []string
	foldCase  bool
}

// Compile canonicalizes the configured zone paths into a Set.
func Compile(p Policy) (*Set, error) {
	fold := runtime.GOOS == "windows" || runtime.GOOS == "darwin"
	if p.CaseInsensitive != nil {
		fold = *p.CaseInsensitive
	}

	s := &Set{foldCase: fold}
	opts := pathnorm.Options{ResolveSymlinks: p.ResolveSymlinks}

	for _, z := range p.Zones {
		canon, err := pathnorm.Normalize(z, opts)
		if err != nil {
			return nil, fmt.Errorf("safe zone %q: %w", z, err)
		}
		if !strings.HasSuffix(canon, string(filepath.Separator)) {
			canon += string(filepath.Separator)
		}
		s.zones = append(s.zones, canon)
	}

	for _, g := range p.DenyWrite {
		if !doublestar.ValidatePattern(filepath.ToSlash(g)) {
			return nil, fmt.Errorf("invalid denyWrite pattern %q", g)
		}
		s.denyGlobs = append(s.denyGlobs, g)
	}

	return s, nil
}

// Zones returns the canonical zone directories, without the internal
// trailing separator.
func (s *Set) Zones() []string {
	out := make([]string, len(s.zones))
	for i, z := range s.zones {
		trimmed := strings.TrimSuffix(z, string(filepath.Separator))
		if trimmed == "" {
			trimmed = z // filesystem root
		}
		out[i] = trimmed
	}
	return out
}

// CaseInsensitive reports the case-folding policy the Set was compiled
// with.
func (s *Set) CaseInsensitive() bool {
	return s.foldCase
}

// Authorize decides whether the operation on the canonical path is
// permitted. The path must already be normalized (see pathnorm); raw
// user input goes through Normalize first.
func (s *Set) Authorize(path string, op Op) Decision {
	if op == OpRead {
		return allowed
	}

	// Protected patterns win over zone membership.
	if pattern, ok := s.matchesDenyGlob(path); ok {
		return Decision{
			Reason: ReasonDeniedPattern,
			Detail: fmt.Sprintf("%s denied: %s matches protected pattern %q", op, path, pattern),
		}
	}

	if s.Contains(path) {
		return allowed
	}

	return Decision{
		Reason: ReasonOutsideSafeZone,
		Detail: fmt.Sprintf("%s denied: %s is outside every safe zone", op, path),
	}
}

// Contains reports whether path is equal to or a descendant of a zone.
// A path exactly on a zone boundary counts as inside.
func (s *Set) Contains(path string) bool {
	p := s.fold(path) + string(filepath.Separator)
	for _, z := range s.zones {
		if strings.HasPrefix(p, s.fold(z)) {
			return true
		}
	}
	return false
}

func (s *Set) matchesDenyGlob(path string) (string, bool) {
	target := filepath.ToSlash(path)
	if s.foldCase {
		target = strings.ToLower(target)
	}
	for _, g := range s.denyGlobs {
		glob := filepath.ToSlash(g)
		if s.foldCase {
			glob = strings.ToLower(glob)
		}
		if ok, err := doublestar.Match(glob, target); err == nil && ok {
			return g, true
		}
	}
	return "", false
}

func (s *Set) fold(p string) string {
	if s.foldCase {
		return strings.ToLower(p)
	}
	return p
}
