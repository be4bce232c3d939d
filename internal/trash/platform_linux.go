//go:build linux

package trash

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// capturePlatformMetadata records ownership and extended attributes so a
// restore can put them back.
func capturePlatformMetadata(path string, info os.FileInfo, e *Entry) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.UID = int(st.Uid)
		e.GID = int(st.Gid)
	}

	names := make([]byte, 4096)
	n, err := unix.Llistxattr(path, names)
	if err != nil || n == 0 {
		return
	}

	for _, name := range splitXattrNames(names[:n]) {
		value := make([]byte, 4096)
		vn, err := unix.Lgetxattr(path, name, value)
		if err != nil {
			continue
		}
		e.Xattrs = append(e.Xattrs, Xattr{Name: name, Value: append([]byte(nil), value[:vn]...)})
	}
}

// restorePlatformMetadata reapplies ownership and xattrs best-effort;
// chown requires privilege and is allowed to fail silently.
func restorePlatformMetadata(path string, e *Entry) {
	if e.UID != 0 || e.GID != 0 {
		_ = os.Lchown(path, e.UID, e.GID)
	}
	for _, x := range e.Xattrs {
		_ = unix.Lsetxattr(path, x.Name, x.Value, 0)
	}
}

func splitXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
