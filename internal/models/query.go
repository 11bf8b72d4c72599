package models

import "fmt"

// Search modes.
const (
	ModeHybrid   = "hybrid"
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// SearchQuery represents a search request.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Mode  string `json:"mode,omitempty"` // hybrid (default), semantic, keyword; "bm25" is accepted for keyword
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty or the mode is unknown; otherwise normalizes limit.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	switch q.Mode {
	case "":
		q.Mode = ModeHybrid
	case ModeHybrid, ModeSemantic, ModeKeyword:
	case "bm25":
		q.Mode = ModeKeyword
	default:
		return fmt.Errorf("unknown search mode %q (supported: hybrid, semantic, keyword)", q.Mode)
	}
	return nil
}

// SearchResult represents a single ranked note.
type SearchResult struct {
	ID            string   `json:"path"`
	Title         string   `json:"title"`
	Gist          string   `json:"gist"`
	Type          string   `json:"type,omitempty"`
	Area          string   `json:"area,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Score         float64  `json:"score"`
	SemanticScore float64  `json:"semantic_score,omitempty"`
	KeywordScore  float64  `json:"keyword_score,omitempty"`
	Rank          int      `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	Mode      string          `json:"mode"`
	// Suggestion is a spelling-corrected query, set when keyword matching found nothing.
	Suggestion string `json:"suggestion,omitempty"`
}

// NewSearchResult builds a result for rec with the given score.
func NewSearchResult(rec *Record, score float64) *SearchResult {
	return &SearchResult{
		ID:    rec.ID,
		Title: rec.Title(),
		Gist:  rec.Gist,
		Type:  rec.Type(),
		Area:  rec.Area(),
		Tags:  rec.Tags,
		Score: score,
	}
}
