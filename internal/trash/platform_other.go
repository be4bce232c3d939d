//go:build !linux

package trash

import "os"

func capturePlatformMetadata(path string, info os.FileInfo, e *Entry) {}

func restorePlatformMetadata(path string, e *Entry) {}
