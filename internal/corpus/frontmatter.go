package corpus

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kioku/internal/models"
)

// FieldPrefix marks the frontmatter keys that become record fields.
const FieldPrefix = "elysium_"

var (
	fieldLineRe = regexp.MustCompile(`^(` + FieldPrefix + `\w+):\s*(.*)$`)
	listRe      = regexp.MustCompile(`^\[(.*)\]$`)
)

// SplitFrontmatter returns the raw leading "---" block and the remaining body.
// ok is false when content does not open with a complete block.
func SplitFrontmatter(content []byte) (raw []byte, body []byte, ok bool) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	first, rest, found := bytes.Cut(content, []byte("\n"))
	if !found || string(bytes.TrimRight(first, "\r \t")) != "---" {
		return nil, content, false
	}
	lines := rest
	offset := 0
	for len(lines) > 0 {
		line, next, _ := bytes.Cut(lines, []byte("\n"))
		if string(bytes.TrimRight(line, "\r \t")) == "---" {
			return rest[:offset], next, true
		}
		offset += len(line) + 1
		lines = next
	}
	return nil, content, false
}

// ParseFields extracts elysium_* keys from a frontmatter block with the prefix
// stripped. Values are strings or lists of strings; other scalars are stringified
// and nested maps are dropped. Frontmatter that is not valid YAML falls back to
// a line scan so a single bad value does not lose the whole note.
func ParseFields(raw []byte) map[string]models.FieldValue {
	fields := make(map[string]models.FieldValue)
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return parseFieldLines(raw)
	}
	for key, val := range doc {
		name, ok := strings.CutPrefix(key, FieldPrefix)
		if !ok || name == "" {
			continue
		}
		if fv, ok := toFieldValue(val); ok {
			fields[name] = fv
		}
	}
	return fields
}

func toFieldValue(v any) (models.FieldValue, bool) {
	switch t := v.(type) {
	case nil:
		return models.FieldValue{}, false
	case string:
		return models.StringField(strings.TrimSpace(t)), true
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case nil, map[string]any, []any:
				continue
			default:
				if s := strings.TrimSpace(fmt.Sprint(it)); s != "" {
					items = append(items, s)
				}
			}
		}
		return models.ListField(items...), true
	case map[string]any:
		return models.FieldValue{}, false
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return models.StringField(t.Format(time.DateOnly)), true
		}
		return models.StringField(t.Format(time.RFC3339)), true
	default:
		return models.StringField(fmt.Sprint(t)), true
	}
}

func parseFieldLines(raw []byte) map[string]models.FieldValue {
	fields := make(map[string]models.FieldValue)
	for _, line := range strings.Split(string(raw), "\n") {
		m := fieldLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		name := strings.TrimPrefix(m[1], FieldPrefix)
		value := strings.TrimSpace(m[2])
		if lm := listRe.FindStringSubmatch(value); lm != nil {
			var items []string
			for _, part := range strings.Split(lm[1], ",") {
				if s := unquote(part); s != "" {
					items = append(items, s)
				}
			}
			fields[name] = models.ListField(items...)
			continue
		}
		if s := unquote(value); s != "" {
			fields[name] = models.StringField(s)
		}
	}
	return fields
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
