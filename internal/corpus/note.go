package corpus

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Parse builds the record for a note from its content. The gist is the
// frontmatter gist, or the normalized title when none is set.
func Parse(id string, content []byte, mtime int64) *models.Record {
	rec := &models.Record{
		ID:     id,
		Mtime:  mtime,
		Fields: map[string]models.FieldValue{},
	}
	if raw, _, ok := SplitFrontmatter(content); ok {
		rec.Fields = ParseFields(raw)
	}

	if g, ok := rec.Fields["gist"]; ok {
		rec.Gist = utils.CollapseWhitespace(g.String())
	}
	if rec.Gist == "" {
		rec.Gist = NormalizeTitle(id)
	}
	rec.Tags = NormalizeTags(rec.Fields["tags"])
	return rec
}

// Load reads entry from disk and parses it. Failures wrap ErrCorpusRead.
func Load(entry Entry) (*models.Record, error) {
	content, err := os.ReadFile(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorpusRead, entry.ID, err)
	}
	return Parse(entry.ID, content, entry.Mtime), nil
}

// NormalizeTitle turns a note path into readable text: the file stem with
// '-' and '_' as spaces and whitespace collapsed.
func NormalizeTitle(id string) string {
	base := path.Base(id)
	stem := strings.TrimSuffix(base, path.Ext(base))
	stem = strings.NewReplacer("-", " ", "_", " ").Replace(stem)
	return utils.CollapseWhitespace(stem)
}

// NormalizeTags lowercases, trims a leading '#', and deduplicates tags in first-seen order.
// A scalar value is split on commas.
func NormalizeTags(v models.FieldValue) []string {
	raw := v.List
	if !v.IsList && v.Str != "" {
		raw = strings.Split(v.Str, ",")
	}
	var tags []string
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	return tags
}
