package trash

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func openBin(t *testing.T) *Bin {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "trash"), 1<<20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDivertAndRestore(t *testing.T) {
	b := openBin(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, "hello")

	entry, err := b.Divert(path)
	if err != nil {
		t.Fatalf("Divert: %v", err)
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Fatal("source still exists after divert")
	}
	if entry.OriginalPath != path {
		t.Errorf("OriginalPath = %q, want %q", entry.OriginalPath, path)
	}
	if entry.Size != 5 {
		t.Errorf("Size = %d, want 5", entry.Size)
	}
	if entry.Hash == "" {
		t.Error("small regular file should be hashed")
	}

	restored, err := b.Restore(entry.Token, "", false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != path {
		t.Errorf("restored to %q, want %q", restored, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("restored content = %q, %v", data, err)
	}

	// The manifest is gone after restore.
	if _, err := b.Restore(entry.Token, "", false); err == nil {
		t.Error("second restore of the same token should fail")
	}
}

func TestDivertDirectory(t *testing.T) {
	b := openBin(t)
	dir := filepath.Join(t.TempDir(), "project")
	writeFile(t, filepath.Join(dir, "a.txt"), "aa")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "bbb")

	entry, err := b.Divert(dir)
	if err != nil {
		t.Fatalf("Divert: %v", err)
	}
	if entry.Size != 5 {
		t.Errorf("directory Size = %d, want 5", entry.Size)
	}
	if entry.Hash != "" {
		t.Error("directories must not carry a hash")
	}

	if _, err := b.Restore(entry.Token, "", false); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	if err != nil || string(data) != "bbb" {
		t.Errorf("nested file after restore = %q, %v", data, err)
	}
}

func TestRestoreToAlternateDest(t *testing.T) {
	b := openBin(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "orig.txt")
	writeFile(t, path, "x")

	entry, err := b.Divert(path)
	if err != nil {
		t.Fatal(err)
	}

	alt := filepath.Join(dir, "moved", "copy.txt")
	restored, err := b.Restore(entry.Token, alt, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != alt {
		t.Errorf("restored to %q, want %q", restored, alt)
	}
}

func TestRestoreRefusesExistingDest(t *testing.T) {
	b := openBin(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	writeFile(t, path, "old")

	entry, err := b.Divert(path)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "new") // occupy the original path

	if _, err := b.Restore(entry.Token, "", false); err == nil {
		t.Fatal("restore over existing file should fail without force")
	}
	if _, err := b.Restore(entry.Token, "", true); err != nil {
		t.Fatalf("forced restore: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Errorf("content after forced restore = %q, want %q", data, "old")
	}
}

func TestRestoreUnknownToken(t *testing.T) {
	b := openBin(t)
	if _, err := b.Restore("nope", "", false); err == nil {
		t.Error("unknown token should fail")
	}
}

func TestEntriesOrderedOldestFirst(t *testing.T) {
	b := openBin(t)
	dir := t.TempDir()

	var tokens []string
	for _, name := range []string{"one", "two", "three"} {
		p := filepath.Join(dir, name)
		writeFile(t, p, name)
		e, err := b.Divert(p)
		if err != nil {
			t.Fatal(err)
		}
		tokens = append(tokens, e.Token)
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := b.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Token != tokens[i] {
			t.Errorf("entries[%d].Token = %q, want %q", i, e.Token, tokens[i])
		}
	}
}

func TestEntriesEmptyBin(t *testing.T) {
	b := openBin(t)
	entries, err := b.Entries()
	if err != nil {
		t.Fatalf("Entries on empty bin: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len = %d, want 0", len(entries))
	}
}

func TestPurge(t *testing.T) {
	b := openBin(t)
	dir := t.TempDir()

	old := filepath.Join(dir, "old.txt")
	writeFile(t, old, "old")
	oldEntry, err := b.Divert(old)
	if err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(dir, "fresh.txt")
	writeFile(t, fresh, "fresh")
	if _, err := b.Divert(fresh); err != nil {
		t.Fatal(err)
	}

	// Age only the first entry by rewriting its manifest.
	oldEntry.Created = time.Now().UTC().Add(-48 * time.Hour)
	if err := b.writeManifest(oldEntry); err != nil {
		t.Fatal(err)
	}

	removed, err := b.Purge(24*time.Hour, time.Time{})
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	entries, _ := b.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries after purge = %d, want 1", len(entries))
	}
	if entries[0].OriginalPath != fresh {
		t.Errorf("wrong entry survived: %q", entries[0].OriginalPath)
	}

	// Zero TTL purges everything.
	if removed, err := b.Purge(0, time.Time{}); err != nil || removed != 1 {
		t.Errorf("full purge removed %d, err %v", removed, err)
	}
}

func TestDivertTokensUnique(t *testing.T) {
	b := openBin(t)
	dir := t.TempDir()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		p := filepath.Join(dir, fmt.Sprintf("f%d.txt", i))
		writeFile(t, p, fmt.Sprintf("content-%d", i))
		e, err := b.Divert(p)
		if err != nil {
			t.Fatalf("Divert %d: %v", i, err)
		}
		if seen[e.Token] {
			t.Fatalf("token %q issued twice", e.Token)
		}
		seen[e.Token] = true
	}

	entries, err := b.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Fatalf("len(entries) = %d, want 20 (a collision overwrote a manifest)", len(entries))
	}
}

func TestCopyPathPreservesSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}

	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	writeFile(t, target, "real content")
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	info, err := os.Lstat(link)
	if err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "copied-link")
	if err := copyPath(link, dest, info); err != nil {
		t.Fatalf("copyPath: %v", err)
	}

	di, err := os.Lstat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if di.Mode()&os.ModeSymlink == 0 {
		t.Fatal("copied entry is not a symlink")
	}
	got, err := os.Readlink(dest)
	if err != nil || got != target {
		t.Errorf("Readlink = %q, %v; want %q", got, err, target)
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open("", 0); err == nil {
		t.Error("empty dir should fail")
	}
}
