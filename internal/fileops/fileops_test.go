package fileops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/corral-sh/corral/internal/config"
)

// newDispatcher builds a Dispatcher whose only safe zone is a temp dir.
// Paths outside it exercise the deny path.
func newDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	zone := t.TempDir()
	cfg := &config.Config{
		Paths: config.PathsConfig{SafeZones: []string{zone}},
		Trash: config.TrashConfig{Dir: filepath.Join(t.TempDir(), "trash")},
	}
	d, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, zone
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWrite_InsideAndOutsideZone(t *testing.T) {
	d, zone := newDispatcher(t)

	inside := filepath.Join(zone, "note.txt")
	if r := d.Write(inside, "hello", false); r.Status != StatusSucceeded {
		t.Fatalf("write inside zone: %s (%s)", r.Status, r.Detail)
	}
	data, err := os.ReadFile(inside)
	if err != nil || string(data) != "hello" {
		t.Errorf("content = %q, %v", data, err)
	}

	outside := filepath.Join(t.TempDir(), "evil.txt")
	r := d.Write(outside, "nope", false)
	if r.Status != StatusDenied {
		t.Fatalf("write outside zone: %s, want Denied", r.Status)
	}
	if _, err := os.Lstat(outside); !os.IsNotExist(err) {
		t.Error("denied write still created the file")
	}
}

func TestWrite_OverwriteGuard(t *testing.T) {
	d, zone := newDispatcher(t)
	path := filepath.Join(zone, "f.txt")
	mustWrite(t, path, "original")

	if r := d.Write(path, "clobber", false); r.Status != StatusFailed {
		t.Errorf("overwrite without flag: %s, want Failed", r.Status)
	}
	if r := d.Write(path, "clobber", true); r.Status != StatusSucceeded {
		t.Errorf("overwrite with flag: %s (%s)", r.Status, r.Detail)
	}
}

func TestWrite_CreatesParents(t *testing.T) {
	d, zone := newDispatcher(t)
	path := filepath.Join(zone, "a", "b", "c.txt")
	if r := d.Write(path, "x", false); r.Status != StatusSucceeded {
		t.Fatalf("nested write: %s (%s)", r.Status, r.Detail)
	}
}

func TestEdit(t *testing.T) {
	d, zone := newDispatcher(t)
	path := filepath.Join(zone, "conf.ini")
	mustWrite(t, path, "port=80\nport=80\n")

	if r := d.Edit(path, "port=80", "port=8080", 1); r.Status != StatusSucceeded {
		t.Fatalf("edit: %s (%s)", r.Status, r.Detail)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "port=8080\nport=80\n" {
		t.Errorf("after single edit: %q", data)
	}

	if r := d.Edit(path, "port=80", "port=9090", 0); r.Status != StatusSucceeded {
		t.Fatalf("edit all: %s (%s)", r.Status, r.Detail)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "port=80\n") {
		t.Errorf("replace-all left occurrences: %q", data)
	}

	if r := d.Edit(path, "missing", "x", 0); r.Status != StatusFailed {
		t.Errorf("edit with absent search string: %s, want Failed", r.Status)
	}

	outside := filepath.Join(t.TempDir(), "o.txt")
	mustWrite(t, outside, "content")
	if r := d.Edit(outside, "content", "x", 0); r.Status != StatusDenied {
		t.Errorf("edit outside zone: %s, want Denied", r.Status)
	}
}

func TestCopy_SourceAnywhereDestInZone(t *testing.T) {
	d, zone := newDispatcher(t)

	src := filepath.Join(t.TempDir(), "outside.txt")
	mustWrite(t, src, "payload")

	dst := filepath.Join(zone, "inside.txt")
	if r := d.Copy(src, dst); r.Status != StatusSucceeded {
		t.Fatalf("copy into zone: %s (%s)", r.Status, r.Detail)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Errorf("copied content = %q", data)
	}

	// The reverse direction is a policy violation.
	out := filepath.Join(t.TempDir(), "exfil.txt")
	if r := d.Copy(dst, out); r.Status != StatusDenied {
		t.Errorf("copy out of zone: %s, want Denied", r.Status)
	}
}

func TestCopy_DirectoryRecursive(t *testing.T) {
	d, zone := newDispatcher(t)

	src := filepath.Join(t.TempDir(), "tree")
	mustWrite(t, filepath.Join(src, "a.txt"), "a")
	mustWrite(t, filepath.Join(src, "sub", "b.txt"), "b")

	dst := filepath.Join(zone, "tree")
	if r := d.Copy(src, dst); r.Status != StatusSucceeded {
		t.Fatalf("copy tree: %s (%s)", r.Status, r.Detail)
	}
	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	if err != nil || string(data) != "b" {
		t.Errorf("nested copy = %q, %v", data, err)
	}
}

func TestMove_BothEndsChecked(t *testing.T) {
	d, zone := newDispatcher(t)

	src := filepath.Join(zone, "src.txt")
	mustWrite(t, src, "data")
	dst := filepath.Join(zone, "dst.txt")

	if r := d.Move(src, dst); r.Status != StatusSucceeded {
		t.Fatalf("move inside zone: %s (%s)", r.Status, r.Detail)
	}
	if _, err := os.Lstat(src); !os.IsNotExist(err) {
		t.Error("source survived the move")
	}

	// Moving out of the zone mutates a path outside it.
	outside := filepath.Join(t.TempDir(), "out.txt")
	if r := d.Move(dst, outside); r.Status != StatusDenied {
		t.Errorf("move out of zone: %s, want Denied", r.Status)
	}

	// Moving in mutates the (outside) source.
	mustWrite(t, outside, "x")
	if r := d.Move(outside, filepath.Join(zone, "in.txt")); r.Status != StatusDenied {
		t.Errorf("move from outside zone: %s, want Denied", r.Status)
	}
}

func TestDelete_RecyclesByDefault(t *testing.T) {
	d, zone := newDispatcher(t)
	path := filepath.Join(zone, "doomed.txt")
	mustWrite(t, path, "bye")

	r := d.Delete(path, false)
	if r.Status != StatusSucceeded {
		t.Fatalf("delete: %s (%s)", r.Status, r.Detail)
	}
	if !r.Recycled || r.Token == "" {
		t.Errorf("delete should recycle: recycled=%v token=%q", r.Recycled, r.Token)
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Error("file still present after delete")
	}

	// And it comes back.
	rr := d.Restore(r.Token, "", false)
	if rr.Status != StatusSucceeded {
		t.Fatalf("restore: %s (%s)", rr.Status, rr.Detail)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "bye" {
		t.Errorf("restored content = %q", data)
	}
}

func TestDelete_Permanent(t *testing.T) {
	d, zone := newDispatcher(t)
	path := filepath.Join(zone, "gone.txt")
	mustWrite(t, path, "x")

	r := d.Delete(path, true)
	if r.Status != StatusSucceeded || r.Recycled {
		t.Fatalf("permanent delete: %s recycled=%v", r.Status, r.Recycled)
	}
	entries, _ := d.Trash().Entries()
	if len(entries) != 0 {
		t.Error("permanent delete left a trash entry")
	}
}

func TestDelete_OutsideZoneAndMissing(t *testing.T) {
	d, zone := newDispatcher(t)

	outside := filepath.Join(t.TempDir(), "sys.conf")
	mustWrite(t, outside, "x")
	if r := d.Delete(outside, false); r.Status != StatusDenied {
		t.Errorf("delete outside zone: %s, want Denied", r.Status)
	}
	if _, err := os.Lstat(outside); err != nil {
		t.Error("denied delete removed the file")
	}

	if r := d.Delete(filepath.Join(zone, "absent.txt"), false); r.Status != StatusFailed {
		t.Errorf("delete of missing file: %s, want Failed", r.Status)
	}
}

func TestRestore_DestMustBeInZone(t *testing.T) {
	d, zone := newDispatcher(t)
	path := filepath.Join(zone, "f.txt")
	mustWrite(t, path, "x")

	r := d.Delete(path, false)
	if r.Status != StatusSucceeded {
		t.Fatal(r.Detail)
	}

	out := filepath.Join(t.TempDir(), "elsewhere.txt")
	if rr := d.Restore(r.Token, out, false); rr.Status != StatusDenied {
		t.Errorf("restore outside zone: %s, want Denied", rr.Status)
	}

	alt := filepath.Join(zone, "back", "f.txt")
	if rr := d.Restore(r.Token, alt, false); rr.Status != StatusSucceeded {
		t.Errorf("restore to alternate zone path: %s (%s)", rr.Status, rr.Detail)
	}
}

func TestRestore_UnknownToken(t *testing.T) {
	d, _ := newDispatcher(t)
	if r := d.Restore("bogus", "", false); r.Status != StatusFailed {
		t.Errorf("restore of unknown token: %s, want Failed", r.Status)
	}
}

func TestReadAndList_Unrestricted(t *testing.T) {
	d, _ := newDispatcher(t)

	dir := t.TempDir() // outside the zone on purpose
	mustWrite(t, filepath.Join(dir, "a.txt"), "1\n2\n3\n4\n")
	mustWrite(t, filepath.Join(dir, "b.txt"), "x")

	entries, err := d.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len(entries) = %d, want 2", len(entries))
	}

	content, err := d.Read(filepath.Join(dir, "a.txt"), 0, 0)
	if err != nil || content != "1\n2\n3\n4\n" {
		t.Errorf("Read = %q, %v", content, err)
	}

	window, err := d.Read(filepath.Join(dir, "a.txt"), 1, 2)
	if err != nil || window != "2\n3\n" {
		t.Errorf("Read window = %q, %v", window, err)
	}
}

func TestStat_ReportsZoneMembership(t *testing.T) {
	d, zone := newDispatcher(t)

	in := filepath.Join(zone, "in.txt")
	mustWrite(t, in, "x")
	fi, err := d.Stat(in)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.InSafeZone {
		t.Error("in-zone file reported outside")
	}

	out := filepath.Join(t.TempDir(), "out.txt")
	mustWrite(t, out, "x")
	fi, err = d.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if fi.InSafeZone {
		t.Error("outside file reported in zone")
	}
}

func TestGrep(t *testing.T) {
	d, _ := newDispatcher(t)

	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "log.txt"), "ok\nerror: disk full\nok\nerror: timeout\n")
	mustWrite(t, filepath.Join(dir, "bin.dat"), "a\x00b error: fake")

	matches, err := d.Grep(dir, `^error:`, 0)
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2 (binary file must be skipped)", len(matches))
	}
	if matches[0].Line != 2 || !strings.Contains(matches[0].Text, "disk full") {
		t.Errorf("first match = %+v", matches[0])
	}

	limited, err := d.Grep(filepath.Join(dir, "log.txt"), `error`, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("bounded grep = %d matches, %v", len(limited), err)
	}

	if _, err := d.Grep(dir, `[unclosed`, 0); err == nil {
		t.Error("invalid pattern should error")
	}
}

func TestNew_DefaultZonesWhenUnconfigured(t *testing.T) {
	d, err := New(&config.Config{
		Trash: config.TrashConfig{Dir: filepath.Join(t.TempDir(), "trash")},
	}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(d.Zones()) != len(config.DefaultSafeZones()) {
		t.Errorf("Zones() = %v", d.Zones())
	}
}

func TestNew_WorkspaceBecomesZone(t *testing.T) {
	ws := t.TempDir()
	d, err := New(&config.Config{
		Paths: config.PathsConfig{Workspace: ws, SafeZones: []string{t.TempDir()}},
		Trash: config.TrashConfig{Dir: filepath.Join(t.TempDir(), "trash")},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if r := d.Write(filepath.Join(ws, "scratch.txt"), "x", false); r.Status != StatusSucceeded {
		t.Errorf("workspace write: %s (%s)", r.Status, r.Detail)
	}
}
