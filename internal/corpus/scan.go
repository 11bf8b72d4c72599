// Package corpus enumerates the notes in a vault and parses them into records.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/kioku/internal/fileid"
)

// ErrCorpusRead marks a single note that could not be read or parsed.
var ErrCorpusRead = errors.New("corpus read failed")

// DefaultExtensions are the note file extensions.
var DefaultExtensions = []string{".md"}

// Entry is one note file observed in the vault.
type Entry struct {
	ID    string // vault-relative slash path
	Path  string // absolute path
	Mtime int64  // unix milliseconds
}

// Scan walks root and returns every note with one of exts, sorted by ID.
// Files and directories whose name starts with "." are skipped.
func Scan(root string, exts []string) ([]Entry, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped; the root itself must be readable
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !fileid.HasExtension(d.Name(), exts) {
			return nil
		}
		id, err := fileid.FromPath(root, path)
		if err != nil {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, Entry{ID: id, Path: path, Mtime: fi.ModTime().UnixMilli()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}
