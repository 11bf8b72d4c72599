package syncer

import (
	"sort"

	"github.com/hyperjump/kioku/internal/corpus"
)

// Diff classifies the corpus against the stored cursor.
type Diff struct {
	New       []corpus.Entry
	Changed   []corpus.Entry
	Unchanged []corpus.Entry
	Removed   []string
}

// ComputeDiff compares corpus entries with cursor (id -> stored mtime). Removed ids are sorted.
func ComputeDiff(entries []corpus.Entry, cursor map[string]int64) Diff {
	var d Diff
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		mtime, ok := cursor[e.ID]
		switch {
		case !ok:
			d.New = append(d.New, e)
		case mtime != e.Mtime:
			d.Changed = append(d.Changed, e)
		default:
			d.Unchanged = append(d.Unchanged, e)
		}
	}
	for id := range cursor {
		if _, ok := seen[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Removed)
	return d
}

// Empty reports whether nothing needs to change.
func (d Diff) Empty() bool {
	return len(d.New) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}
