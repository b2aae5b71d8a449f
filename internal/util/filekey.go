package util

import (
	"crypto/sha1"
	"fmt"
	"os"
	"syscall"
)

// GenerateFileKey creates a stable key for a file from its filesystem
// metadata: SHA1 of (dev, inode, size, mtime). The run ledger stores it so a
// later run can tell whether a source file changed since it was analyzed.
func GenerateFileKey(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	h := sha1.New()
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fmt.Fprintf(h, "%d:%d:%d:%d", stat.Dev, stat.Ino, info.Size(), info.ModTime().Unix())
	} else {
		fmt.Fprintf(h, "%d:%d", info.Size(), info.ModTime().Unix())
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
