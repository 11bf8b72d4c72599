package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Usage is the on-disk footprint of the kioku state.
type Usage struct {
	Database int64 `json:"database"`
	Snapshot int64 `json:"snapshot"`
	// Leftover counts temp and retired snapshot dirs from interrupted publishes.
	Leftover int64 `json:"leftover"`
}

// Total returns the sum of all parts.
func (u Usage) Total() int64 { return u.Database + u.Snapshot + u.Leftover }

// MeasureUsage sizes the database (with its WAL and shm files), the snapshot
// dir and any hidden publish leftovers next to it. Missing paths count as 0.
func MeasureUsage(dbPath, snapshotDir string) (Usage, error) {
	var u Usage
	var err error
	if dbPath != "" {
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			n, err := sizeOf(p)
			if err != nil {
				return u, err
			}
			u.Database += n
		}
	}
	if snapshotDir == "" {
		return u, nil
	}
	if u.Snapshot, err = sizeOf(snapshotDir); err != nil {
		return u, err
	}
	parent := filepath.Dir(snapshotDir)
	prefix := "." + filepath.Base(snapshotDir) + "."
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return u, nil
	}
	if err != nil {
		return u, err
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := sizeOf(filepath.Join(parent, e.Name()))
		if err != nil {
			return u, err
		}
		u.Leftover += n
	}
	return u, nil
}

func sizeOf(p string) (int64, error) {
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
