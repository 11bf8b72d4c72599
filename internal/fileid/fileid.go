// Package fileid maps note files to stable document IDs: the vault-relative,
// slash-separated path.
package fileid

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// FromPath returns the ID for absolutePath inside root.
// Same file always yields the same ID regardless of platform separators.
func FromPath(root, absolutePath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absolutePath))
	if err != nil {
		return "", fmt.Errorf("path %s is not under %s: %w", absolutePath, root, err)
	}
	id := filepath.ToSlash(rel)
	if id == "." || id == ".." || strings.HasPrefix(id, "../") {
		return "", fmt.Errorf("path %s is not under %s", absolutePath, root)
	}
	return id, nil
}

// ToPath returns the absolute path of id inside root.
func ToPath(root, id string) string {
	return filepath.Join(root, filepath.FromSlash(id))
}

// Hidden reports whether any component of id starts with ".".
func Hidden(id string) bool {
	for _, part := range strings.Split(path.Clean(id), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// HasExtension reports whether id ends in one of exts (case-insensitive, dot included).
func HasExtension(id string, exts []string) bool {
	ext := strings.ToLower(path.Ext(id))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
