package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name     string
		query    *SearchQuery
		wantErr  bool
		wantMode string
	}{
		{"empty query", &SearchQuery{Query: ""}, true, ""},
		{"valid query", &SearchQuery{Query: "hello"}, false, ModeHybrid},
		{"sets default limit", &SearchQuery{Query: "x", Limit: 0}, false, ModeHybrid},
		{"caps limit at 100", &SearchQuery{Query: "x", Limit: 200}, false, ModeHybrid},
		{"bm25 alias", &SearchQuery{Query: "x", Mode: "bm25"}, false, ModeKeyword},
		{"semantic", &SearchQuery{Query: "x", Mode: ModeSemantic}, false, ModeSemantic},
		{"unknown mode", &SearchQuery{Query: "x", Mode: "fuzzy"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.Limit == 0 {
				t.Error("expected default limit to be set")
			}
			if tt.query.Limit > 100 {
				t.Errorf("expected limit capped at 100, got %d", tt.query.Limit)
			}
			if tt.query.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", tt.query.Mode, tt.wantMode)
			}
		})
	}
}
