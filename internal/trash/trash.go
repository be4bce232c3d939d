// Package trash implements recoverable deletion: instead of unlinking,
// files are diverted into a trash directory alongside a JSON manifest
// that records enough metadata to restore them.
//
// Layout under the trash directory:
//
//	payload/<token>        the diverted file or directory tree
//	manifest/<token>.json  original path, size, hash, mode, metadata
package trash

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

const (
	payloadDirName  = "payload"
	manifestDirName = "manifest"
)

// Entry describes one diverted item.
type Entry struct {
	Token        string      `json:"token"`
	OriginalPath string      `json:"original_path"`
	PayloadPath  string      `json:"payload_path"`
	Size         int64       `json:"size"`
	Hash         string      `json:"hash,omitempty"` // sha256 of small regular files
	Mode         os.FileMode `json:"mode"`
	UID          int         `json:"uid,omitempty"`
	GID          int         `json:"gid,omitempty"`
	Xattrs       []Xattr     `json:"xattrs,omitempty"`
	Mtime        time.Time   `json:"mtime"`
	Created      time.Time   `json:"created"`
}

// Xattr is one preserved extended attribute.
type Xattr struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Bin is a handle to one trash directory.
type Bin struct {
	dir       string
	hashLimit int64 // hash regular files up to this size; 0 disables hashing
}

// Open returns a Bin rooted at dir. The directory is created lazily on
// first divert.
func Open(dir string, hashLimit int64) (*Bin, error) {
	if dir == "" {
		return nil, errors.New("trash: directory required")
	}
	return &Bin{dir: dir, hashLimit: hashLimit}, nil
}

// Dir returns the trash directory.
func (b *Bin) Dir() string {
	return b.dir
}

// Divert moves path into the trash and writes its manifest. A rename is
// attempted first; across filesystems it falls back to copy-and-remove.
func (b *Bin) Divert(path string) (*Entry, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	size, err := sizeOf(path, info)
	if err != nil {
		return nil, err
	}

	var hashVal string
	if b.hashLimit > 0 && info.Mode().IsRegular() && size <= b.hashLimit {
		if h, err := hashFile(path); err == nil {
			hashVal = h
		}
	}

	token := newToken()
	entry := &Entry{
		Token:        token,
		OriginalPath: path,
		PayloadPath:  filepath.Join(b.dir, payloadDirName, token),
		Size:         size,
		Hash:         hashVal,
		Mode:         info.Mode(),
		Mtime:        info.ModTime(),
		Created:      time.Now().UTC(),
	}
	capturePlatformMetadata(path, info, entry)

	if err := os.MkdirAll(filepath.Dir(entry.PayloadPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(path, entry.PayloadPath); err != nil {
		if err := copyPath(path, entry.PayloadPath, info); err != nil {
			return nil, fmt.Errorf("trash: divert (copy fallback): %w", err)
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("trash: cleanup source: %w", err)
		}
	}

	if err := b.writeManifest(entry); err != nil {
		return nil, fmt.Errorf("trash: write manifest: %w", err)
	}
	return entry, nil
}

// Entries lists all diverted items, oldest first.
func (b *Bin) Entries() ([]Entry, error) {
	manDir := filepath.Join(b.dir, manifestDirName)
	files, err := os.ReadDir(manDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(manDir, f.Name()))
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Created.Before(entries[j].Created)
	})
	return entries, nil
}

// Restore moves a diverted item back. An empty dest restores to the
// original path. Unless force is set, an existing destination aborts the
// restore. The payload hash, when present, is verified after the move.
func (b *Bin) Restore(token, dest string, force bool) (string, error) {
	entry, manPath, err := b.readManifest(token)
	if err != nil {
		return "", err
	}

	target := dest
	if target == "" {
		target = entry.OriginalPath
	}

	if !force {
		if _, err := os.Lstat(target); err == nil {
			return "", fmt.Errorf("trash: destination exists: %s", target)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	if err := os.Rename(entry.PayloadPath, target); err != nil {
		info, err2 := os.Lstat(entry.PayloadPath)
		if err2 != nil {
			return "", err2
		}
		if err := copyPath(entry.PayloadPath, target, info); err != nil {
			return "", err
		}
		if err := os.RemoveAll(entry.PayloadPath); err != nil {
			return "", err
		}
	}

	if entry.Hash != "" {
		actual, err := hashFile(target)
		if err != nil {
			return "", fmt.Errorf("trash: hash restored file: %w", err)
		}
		if actual != entry.Hash {
			return "", fmt.Errorf("trash: hash mismatch on restore: expected %s got %s", entry.Hash, actual)
		}
	}

	restorePlatformMetadata(target, entry)

	_ = os.Remove(manPath)
	return target, nil
}

// Purge permanently removes entries older than ttl. A zero ttl removes
// everything. Returns the number of entries removed.
func (b *Bin) Purge(ttl time.Duration, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entries, err := b.Entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if ttl > 0 && !e.Created.Add(ttl).Before(now) {
			continue
		}
		if err := b.remove(&e); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (b *Bin) writeManifest(e *Entry) error {
	manDir := filepath.Join(b.dir, manifestDirName)
	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(manDir, e.Token+".json"), data, 0o640)
}

func (b *Bin) readManifest(token string) (*Entry, string, error) {
	manPath := filepath.Join(b.dir, manifestDirName, token+".json")
	data, err := os.ReadFile(manPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("trash: no entry with token %q", token)
		}
		return nil, "", err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, "", err
	}
	return &e, manPath, nil
}

func (b *Bin) remove(e *Entry) error {
	_ = os.Remove(filepath.Join(b.dir, manifestDirName, e.Token+".json"))
	return os.RemoveAll(e.PayloadPath)
}

func sizeOf(path string, info os.FileInfo) (int64, error) {
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func copyPath(src, dest string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return os.Symlink(target, dest)
	}

	if info.IsDir() {
		if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
			return err
		}
		children, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, child := range children {
			childSrc := filepath.Join(src, child.Name())
			childInfo, err := os.Lstat(childSrc)
			if err != nil {
				return err
			}
			if err := copyPath(childSrc, filepath.Join(dest, child.Name()), childInfo); err != nil {
				return err
			}
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

var tokenSeq atomic.Uint64

// newToken returns a token unique within this process even when two
// diverts land on the same clock tick.
func newToken() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), tokenSeq.Add(1))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
