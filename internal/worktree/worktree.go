// Package worktree is a narrow view of git worktrees: sessions consume a
// worktree as an opaque checkout path plus branch name. Creating and
// deleting worktrees is someone else's job.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validate checks that the worktree path exists and is a directory, and
// normalizes it to an absolute path.
func Validate(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving worktree path: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("worktree %s: %w", abs, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("worktree %s is not a directory", abs)
	}
	return abs, nil
}

// ContainsPath reports whether path sits inside (or is) the worktree root.
// Both inputs are cleaned; neither needs to exist.
func ContainsPath(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if root == path {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
