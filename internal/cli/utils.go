// Package cli formats kioku results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/engine"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/syncer"
	"github.com/hyperjump/kioku/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, response)
	case OutputCompact:
		writeCompact(w, response.Results)
	default:
		fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n", response.Total, response.QueryTime, response.Mode)
		if response.Suggestion != "" {
			fmt.Fprintf(w, "Did you mean: %s\n", response.Suggestion)
		}
		fmt.Fprintln(w)
		for _, result := range response.Results {
			writeOneResult(w, result)
		}
	}
	return nil
}

// WriteRelated writes notes related to id.
func WriteRelated(w io.Writer, id string, results []*models.SearchResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, map[string]any{"path": id, "results": results})
	case OutputCompact:
		writeCompact(w, results)
	default:
		fmt.Fprintf(w, "\n%d notes related to %s\n\n", len(results), id)
		for _, result := range results {
			writeOneResult(w, result)
		}
	}
	return nil
}

func writeCompact(w io.Writer, results []*models.SearchResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.ID, TruncateWords(r.Gist, 12))
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
		result.Rank, result.Score, result.KeywordScore, result.SemanticScore)
	fmt.Fprintf(w, "Path: %s\n", result.ID)
	if result.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", result.Title)
	}
	var meta []string
	if result.Type != "" {
		meta = append(meta, "type="+result.Type)
	}
	if result.Area != "" {
		meta = append(meta, "area="+result.Area)
	}
	if len(result.Tags) > 0 {
		meta = append(meta, "tags="+strings.Join(result.Tags, ","))
	}
	if len(meta) > 0 {
		fmt.Fprintf(w, "%s\n", strings.Join(meta, " "))
	}
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Gist, 200))
	fmt.Fprintln(w)
}

// WriteSummary writes the outcome of a sync pass.
func WriteSummary(w io.Writer, s *syncer.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	kind := "incremental"
	if s.Full {
		kind = "full"
	}
	fmt.Fprintf(w, "%s sync %s: %d added, %d updated, %d removed, %d unchanged, %d failed in %s\n",
		kind, s.RunID, s.Added, s.Updated, s.Removed, s.Unchanged, len(s.Failed), s.Duration.Round(time.Millisecond))
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  skipped: %d notes without a gist\n", s.Skipped)
	}
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  failed: %s\n", f.Error())
	}
	return nil
}

// WriteStatus writes the engine status.
func WriteStatus(w io.Writer, st *engine.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	lastSync := "never"
	if st.LastSync != nil {
		lastSync = st.LastSync.Format("2006-01-02 15:04:05")
	}
	snapshotAge := st.SnapshotAge
	if snapshotAge == "" {
		snapshotAge = "none"
	}
	disk := FormatBytes(st.DiskUsageBytes)
	if st.LeftoverBytes > 0 {
		disk += fmt.Sprintf(" (%s from interrupted exports)", FormatBytes(st.LeftoverBytes))
	}
	rows := [][2]string{
		{"Vault", st.Vault},
		{"Notes", fmt.Sprint(st.Notes)},
		{"Index", fmt.Sprintf("%s, %d entries, %d tombstones", st.IndexType, st.IndexSize, st.Tombstones)},
		{"Embedding", fmt.Sprintf("%s (%d dimensions)", st.EmbeddingMode, st.Dimension)},
		{"State", st.State},
		{"Last sync", lastSync},
		{"Snapshot age", snapshotAge},
		{"Disk usage", disk},
		{"Database", st.DatabasePath},
		{"Snapshot", st.SnapshotDir},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-13s %s\n", r[0]+":", r[1])
	}
	return nil
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
