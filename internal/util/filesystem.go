package util

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// CanonicalPath returns the absolute, symlink-resolved form of path. It is
// the key used for result rows and is also the path handed to the decoder,
// so the name keeps its on-disk byte spelling.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	return filepath.Clean(abs), nil
}

// FileStem returns the base name of path without its extension
func FileStem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// DisplayName returns the base name of path in Unicode NFC, for reports
// and console output only. Never use it to open a file.
func DisplayName(path string) string {
	return norm.NFC.String(filepath.Base(path))
}

// FileExists reports whether path exists (file or directory)
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
