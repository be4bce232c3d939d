package safezone

import (
	"path/filepath"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func compile(t *testing.T, p Policy) *Set {
	t.Helper()
	s, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return s
}

func TestAuthorize_ReadAlwaysAllowed(t *testing.T) {
	s := compile(t, Policy{Zones: []string{"/home/user/Documents"}})

	paths := []string{
		"/home/user/Documents/a.txt",
		"/etc/passwd",
		"/",
	}
	for _, p := range paths {
		if d := s.Authorize(p, OpRead); !d.Allowed {
			t.Errorf("read of %q denied: %s", p, d.Detail)
		}
	}
}

func TestAuthorize_WriteInsideAndOutside(t *testing.T) {
	s := compile(t, Policy{Zones: []string{"/home/user/Documents", "/srv/shared"}})

	tests := []struct {
		path string
		op   Op
		want bool
	}{
		{"/home/user/Documents/report.txt", OpWrite, true},
		{"/home/user/Documents/sub/dir/x", OpWrite, true},
		{"/srv/shared/a", OpDelete, true},
		{"/home/user/Documents", OpWrite, true}, // zone boundary is inside
		{"/home/user/Documentsx/a", OpWrite, false},
		{"/home/user/other.txt", OpWrite, false},
		{"/etc/passwd", OpDelete, false},
		{"/srv/sharedx", OpMove, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d := s.Authorize(tt.path, tt.op)
			if d.Allowed != tt.want {
				t.Errorf("Authorize(%q, %s) = %v, want %v (%s)", tt.path, tt.op, d.Allowed, tt.want, d.Detail)
			}
			if !tt.want && d.Reason != ReasonOutsideSafeZone {
				t.Errorf("reason = %q, want %q", d.Reason, ReasonOutsideSafeZone)
			}
		})
	}
}

func TestAuthorize_CopyDestRule(t *testing.T) {
	s := compile(t, Policy{Zones: []string{"/srv/shared"}})

	// Destination inside the zone is allowed even though the source
	// (checked separately, as a read) could be anywhere.
	if d := s.Authorize("/srv/shared/in.bin", OpCopyDest); !d.Allowed {
		t.Errorf("copy into zone denied: %s", d.Detail)
	}
	if d := s.Authorize("/tmp/out.bin", OpCopyDest); d.Allowed {
		t.Error("copy out of zone allowed")
	}
}

func TestAuthorize_RootZone(t *testing.T) {
	s := compile(t, Policy{Zones: []string{"/"}})

	if d := s.Authorize("/anything/at/all", OpWrite); !d.Allowed {
		t.Errorf("root zone should allow all writes: %s", d.Detail)
	}
}

func TestAuthorize_CaseFolding(t *testing.T) {
	insensitive := compile(t, Policy{
		Zones:           []string{"/home/user/Documents"},
		CaseInsensitive: boolPtr(true),
	})
	if d := insensitive.Authorize("/home/user/documents/a.txt", OpWrite); !d.Allowed {
		t.Errorf("case-insensitive match failed: %s", d.Detail)
	}

	sensitive := compile(t, Policy{
		Zones:           []string{"/home/user/Documents"},
		CaseInsensitive: boolPtr(false),
	})
	if d := sensitive.Authorize("/home/user/documents/a.txt", OpWrite); d.Allowed {
		t.Error("case-sensitive match should deny differing case")
	}
}

func TestAuthorize_DenyGlobsOverrideZones(t *testing.T) {
	s := compile(t, Policy{
		Zones:     []string{"/home/user/Documents"},
		DenyWrite: []string{"**/.git/hooks/**", "**/.bashrc"},
	})

	tests := []struct {
		path string
		want bool
	}{
		{"/home/user/Documents/repo/.git/hooks/pre-commit", false},
		{"/home/user/Documents/.bashrc", false},
		{"/home/user/Documents/repo/src/main.go", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d := s.Authorize(tt.path, OpWrite)
			if d.Allowed != tt.want {
				t.Errorf("got %v, want %v (%s)", d.Allowed, tt.want, d.Detail)
			}
			if !tt.want && d.Reason != ReasonDeniedPattern {
				t.Errorf("reason = %q, want %q", d.Reason, ReasonDeniedPattern)
			}
		})
	}

	// Reading a protected path is still fine.
	if d := s.Authorize("/home/user/Documents/.bashrc", OpRead); !d.Allowed {
		t.Error("deny globs must not affect reads")
	}
}

func TestCompile_InvalidInputs(t *testing.T) {
	if _, err := Compile(Policy{Zones: []string{""}}); err == nil {
		t.Error("empty zone should fail compilation")
	}
	if _, err := Compile(Policy{Zones: []string{"/ok"}, DenyWrite: []string{"[unclosed"}}); err == nil {
		t.Error("malformed glob should fail compilation")
	}
}

func TestCompile_ExpandsZoneEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CORRAL_ZONE_ROOT", dir)

	s := compile(t, Policy{Zones: []string{"$CORRAL_ZONE_ROOT/drop"}})

	if d := s.Authorize(filepath.Join(dir, "drop", "f.txt"), OpWrite); !d.Allowed {
		t.Errorf("env-expanded zone not matched: %s", d.Detail)
	}
}

func TestZones_ReturnsCanonicalList(t *testing.T) {
	s := compile(t, Policy{Zones: []string{"/srv/shared/"}})
	zones := s.Zones()
	if len(zones) != 1 || zones[0] != "/srv/shared" {
		t.Errorf("Zones() = %v", zones)
	}
}
