// Package fileops executes file operations behind the safe-zone policy.
//
// Every operation follows the same pipeline: normalize the raw path,
// authorize it against the compiled zone set, then execute. Policy
// denials and I/O failures are reported distinctly so a caller can tell
// "not permitted" apart from "tried and failed".
package fileops

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/corral-sh/corral/internal/config"
	"github.com/corral-sh/corral/internal/pathnorm"
	"github.com/corral-sh/corral/internal/safezone"
	"github.com/corral-sh/corral/internal/trash"
)

// Status classifies the outcome of a mutating operation.
type Status string

const (
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed" // attempted, hit an I/O or input error
	StatusDenied    Status = "Denied" // refused by policy, nothing attempted
)

// Result reports the outcome of a mutating operation.
type Result struct {
	Status   Status
	Path     string // canonical path the operation targeted
	Detail   string
	Recycled bool   // delete went to the trash, not permanent
	Token    string // trash token for recycled deletes
}

// EntryInfo is one directory listing row.
type EntryInfo struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// FileInfo is the result of a stat.
type FileInfo struct {
	Path       string
	Size       int64
	Mode       os.FileMode
	ModTime    time.Time
	IsDir      bool
	InSafeZone bool
}

// Match is one grep hit.
type Match struct {
	Path string
	Line int
	Text string
}

const (
	defaultHashLimit = 32 << 20 // hash trashed files up to 32 MiB
	maxGrepLineBytes = 1 << 20
)

// Dispatcher runs file operations under one compiled policy. It holds no
// mutable state and is safe for concurrent use.
type Dispatcher struct {
	zones    *safezone.Set
	bin      *trash.Bin
	normOpts pathnorm.Options
	debug    bool
}

// New compiles the configured safe zones and opens the trash bin. The
// workspace, when set, becomes an implicit zone; a config with no zones
// at all falls back to the defaults.
func New(cfg *config.Config, debug bool) (*Dispatcher, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	zonePaths := cfg.Paths.SafeZones
	if len(zonePaths) == 0 {
		zonePaths = config.DefaultSafeZones()
	}
	if cfg.Paths.Workspace != "" {
		zonePaths = append([]string{cfg.Paths.Workspace}, zonePaths...)
	}

	resolve := cfg.Paths.ResolveSymlinksEnabled()
	set, err := safezone.Compile(safezone.Policy{
		Zones:           zonePaths,
		DenyWrite:       cfg.Paths.DenyWrite,
		ResolveSymlinks: resolve,
		CaseInsensitive: cfg.Paths.CaseInsensitive,
	})
	if err != nil {
		return nil, err
	}

	trashDir := cfg.Trash.Dir
	if trashDir == "" {
		trashDir = config.DefaultTrashDir()
	} else {
		trashDir, err = pathnorm.Normalize(trashDir, pathnorm.Options{})
		if err != nil {
			return nil, fmt.Errorf("trash dir: %w", err)
		}
	}
	hashLimit := cfg.Trash.HashLimitBytes
	if hashLimit == 0 {
		hashLimit = defaultHashLimit
	}
	bin, err := trash.Open(trashDir, hashLimit)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		zones:    set,
		bin:      bin,
		normOpts: pathnorm.Options{ResolveSymlinks: resolve},
		debug:    debug,
	}, nil
}

// Zones returns the canonical safe-zone directories.
func (d *Dispatcher) Zones() []string {
	return d.zones.Zones()
}

// ZoneSet returns the compiled zone set, for callers that gate their own
// destinations (remote fetches land through the same policy).
func (d *Dispatcher) ZoneSet() *safezone.Set {
	return d.zones
}

// Trash returns the trash bin backing recoverable deletes.
func (d *Dispatcher) Trash() *trash.Bin {
	return d.bin
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.debug {
		fmt.Fprintf(os.Stderr, "[corral] "+format+"\n", args...)
	}
}

// normalize canonicalizes a raw path for matching and execution.
func (d *Dispatcher) normalize(raw string) (string, error) {
	return pathnorm.Normalize(raw, d.normOpts)
}

// authorize normalizes and checks one path. A nil error with an empty
// result means the operation may proceed on the returned path.
func (d *Dispatcher) authorize(raw string, op safezone.Op) (string, *Result) {
	path, err := d.normalize(raw)
	if err != nil {
		return "", &Result{Status: StatusFailed, Path: raw, Detail: err.Error()}
	}
	if dec := d.zones.Authorize(path, op); !dec.Allowed {
		d.logf("denied %s %s: %s", op, path, dec.Detail)
		return path, &Result{Status: StatusDenied, Path: path, Detail: dec.Detail}
	}
	return path, nil
}

// List returns the entries of a directory. Reads are unrestricted.
func (d *Dispatcher) List(raw string) ([]EntryInfo, error) {
	path, err := d.normalize(raw)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]EntryInfo, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			continue // entry vanished mid-listing
		}
		entries = append(entries, EntryInfo{
			Name:    de.Name(),
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
			IsDir:   de.IsDir(),
		})
	}
	return entries, nil
}

// Read returns file content. A positive offset skips that many lines; a
// positive limit caps the number of lines returned. Zero values mean
// "from the start" and "to the end".
func (d *Dispatcher) Read(raw string, offset, limit int) (string, error) {
	path, err := d.normalize(raw)
	if err != nil {
		return "", err
	}

	if offset <= 0 && limit <= 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxGrepLineBytes)

	line := 0
	taken := 0
	for scanner.Scan() {
		line++
		if line <= offset {
			continue
		}
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
		taken++
		if limit > 0 && taken >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Stat returns metadata for a path, including whether it sits inside a
// safe zone.
func (d *Dispatcher) Stat(raw string) (*FileInfo, error) {
	path, err := d.normalize(raw)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Path:       path,
		Size:       info.Size(),
		Mode:       info.Mode(),
		ModTime:    info.ModTime(),
		IsDir:      info.IsDir(),
		InSafeZone: d.zones.Contains(path),
	}, nil
}

// Grep searches a file or directory tree for a regular expression,
// returning at most maxMatches hits. Binary files are skipped.
func (d *Dispatcher) Grep(raw, pattern string, maxMatches int) ([]Match, error) {
	path, err := d.normalize(raw)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if maxMatches <= 0 {
		maxMatches = 1000
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var matches []Match
	if !info.IsDir() {
		return d.grepFile(path, re, maxMatches)
	}

	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil || !fi.Mode().IsRegular() {
			return nil // unreadable entries are skipped, not fatal
		}
		hits, err := d.grepFile(p, re, maxMatches-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, hits...)
		if len(matches) >= maxMatches {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (d *Dispatcher) grepFile(path string, re *regexp.Regexp, budget int) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Sniff for NUL bytes; binary content produces useless matches.
	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxGrepLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if re.MatchString(text) {
			matches = append(matches, Match{Path: path, Line: line, Text: text})
			if len(matches) >= budget {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// Write creates or replaces a file inside a safe zone. Without overwrite
// an existing file is left untouched. Parent directories are created.
func (d *Dispatcher) Write(raw, content string, overwrite bool) Result {
	path, denied := d.authorize(raw, safezone.OpWrite)
	if denied != nil {
		return *denied
	}

	if !overwrite {
		if _, err := os.Lstat(path); err == nil {
			return Result{Status: StatusFailed, Path: path, Detail: "file exists; pass overwrite to replace it"}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}

	d.logf("wrote %d bytes to %s", len(content), path)
	return Result{Status: StatusSucceeded, Path: path, Detail: fmt.Sprintf("wrote %d bytes", len(content))}
}

// Edit replaces occurrences of old with new in a file. A count of zero
// or less replaces every occurrence. Zero matches is a failure so a
// stale edit never silently no-ops.
func (d *Dispatcher) Edit(raw, old, new string, count int) Result {
	path, denied := d.authorize(raw, safezone.OpWrite)
	if denied != nil {
		return *denied
	}
	if old == "" {
		return Result{Status: StatusFailed, Path: path, Detail: "empty search string"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}

	occurrences := strings.Count(string(data), old)
	if occurrences == 0 {
		return Result{Status: StatusFailed, Path: path, Detail: "search string not found"}
	}
	if count <= 0 || count > occurrences {
		count = occurrences
	}

	updated := strings.Replace(string(data), old, new, count)

	info, err := os.Stat(path)
	if err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}

	d.logf("edited %s: %d replacement(s)", path, count)
	return Result{Status: StatusSucceeded, Path: path, Detail: fmt.Sprintf("replaced %d occurrence(s)", count)}
}

// Copy duplicates a file or directory tree. The source is a read and may
// live anywhere; only the destination must sit inside a safe zone.
func (d *Dispatcher) Copy(rawSrc, rawDst string) Result {
	src, err := d.normalize(rawSrc)
	if err != nil {
		return Result{Status: StatusFailed, Path: rawSrc, Detail: err.Error()}
	}
	dst, denied := d.authorize(rawDst, safezone.OpCopyDest)
	if denied != nil {
		return *denied
	}

	info, err := os.Lstat(src)
	if err != nil {
		return Result{Status: StatusFailed, Path: src, Detail: err.Error()}
	}
	if err := copyTree(src, dst, info); err != nil {
		return Result{Status: StatusFailed, Path: dst, Detail: err.Error()}
	}

	d.logf("copied %s -> %s", src, dst)
	return Result{Status: StatusSucceeded, Path: dst, Detail: fmt.Sprintf("copied %s to %s", src, dst)}
}

// Move renames a file or directory. Both ends mutate the filesystem, so
// both must sit inside a safe zone.
func (d *Dispatcher) Move(rawSrc, rawDst string) Result {
	src, denied := d.authorize(rawSrc, safezone.OpMove)
	if denied != nil {
		return *denied
	}
	dst, denied := d.authorize(rawDst, safezone.OpMove)
	if denied != nil {
		return *denied
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{Status: StatusFailed, Path: dst, Detail: err.Error()}
	}
	if err := os.Rename(src, dst); err != nil {
		// Cross-device move: copy then remove.
		info, err2 := os.Lstat(src)
		if err2 != nil {
			return Result{Status: StatusFailed, Path: src, Detail: err2.Error()}
		}
		if err := copyTree(src, dst, info); err != nil {
			return Result{Status: StatusFailed, Path: dst, Detail: err.Error()}
		}
		if err := os.RemoveAll(src); err != nil {
			return Result{Status: StatusFailed, Path: src, Detail: err.Error()}
		}
	}

	d.logf("moved %s -> %s", src, dst)
	return Result{Status: StatusSucceeded, Path: dst, Detail: fmt.Sprintf("moved %s to %s", src, dst)}
}

// Delete removes a file or directory inside a safe zone. By default the
// target is diverted to the trash and can be restored; permanent skips
// the trash. If diversion fails the delete falls back to permanent and
// says so in the detail.
func (d *Dispatcher) Delete(raw string, permanent bool) Result {
	path, denied := d.authorize(raw, safezone.OpDelete)
	if denied != nil {
		return *denied
	}

	if _, err := os.Lstat(path); err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}

	if !permanent {
		entry, err := d.bin.Divert(path)
		if err == nil {
			d.logf("recycled %s (token %s)", path, entry.Token)
			return Result{
				Status:   StatusSucceeded,
				Path:     path,
				Detail:   fmt.Sprintf("moved to trash (token %s)", entry.Token),
				Recycled: true,
				Token:    entry.Token,
			}
		}
		d.logf("trash divert failed for %s: %v; deleting permanently", path, err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return Result{Status: StatusFailed, Path: path, Detail: rmErr.Error()}
		}
		return Result{
			Status: StatusSucceeded,
			Path:   path,
			Detail: fmt.Sprintf("trash unavailable (%v); deleted permanently", err),
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}
	d.logf("permanently deleted %s", path)
	return Result{Status: StatusSucceeded, Path: path, Detail: "deleted permanently"}
}

// Restore brings a trashed entry back. An empty dest restores to the
// original location; either way the target must sit inside a safe zone.
func (d *Dispatcher) Restore(token, rawDest string, force bool) Result {
	target := rawDest
	if target == "" {
		entries, err := d.bin.Entries()
		if err != nil {
			return Result{Status: StatusFailed, Detail: err.Error()}
		}
		for _, e := range entries {
			if e.Token == token {
				target = e.OriginalPath
				break
			}
		}
		if target == "" {
			return Result{Status: StatusFailed, Detail: fmt.Sprintf("no trash entry with token %q", token)}
		}
	}

	path, denied := d.authorize(target, safezone.OpWrite)
	if denied != nil {
		return *denied
	}

	restored, err := d.bin.Restore(token, path, force)
	if err != nil {
		return Result{Status: StatusFailed, Path: path, Detail: err.Error()}
	}

	d.logf("restored token %s to %s", token, restored)
	return Result{Status: StatusSucceeded, Path: restored, Detail: fmt.Sprintf("restored to %s", restored)}
}

// copyTree copies a file or directory recursively, preserving
// permissions. Symlinks are recreated, not followed.
func copyTree(src, dst string, info os.FileInfo) error {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.Symlink(target, dst)

	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
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
			if err := copyTree(childSrc, filepath.Join(dst, child.Name()), childInfo); err != nil {
				return err
			}
		}
		return nil

	default:
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	}
}
