// Package folder implements the filesystem connector: a scan pass over a
// directory tree with per-extension extraction, plus an optional live watch.
package folder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading ~ against the current user's home directory,
// makes the path absolute, and verifies it names an existing directory.
func ResolvePath(raw string) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", fmt.Errorf("folder path is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve folder path %q: %w", raw, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("folder %q is not accessible: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("folder path %q is not a directory", abs)
	}
	return abs, nil
}
