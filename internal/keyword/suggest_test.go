package keyword

import "testing"

type mapDict map[string]int

func (d mapDict) Terms() (map[string]int, error) { return d, nil }

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"tech", "tehc", 2},
		{"note", "notes", 1},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		if got := LevenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggester_Correct(t *testing.T) {
	s := NewSuggester(mapDict{"tech": 3, "term": 2, "team": 1, "learning": 2}, 0)

	tests := []struct {
		query   string
		want    string
		changed bool
	}{
		{"tech term", "tech term", false},
		{"Tehc term", "tech term", true},
		{"lerning", "learning", true},
		{"teem", "term", true}, // team and term tie on distance; term is more frequent
		{"zzzzzzzz", "zzzzzzzz", false},
	}
	for _, tt := range tests {
		got, changed, err := s.Correct(tt.query)
		if err != nil {
			t.Fatalf("Correct(%q): %v", tt.query, err)
		}
		if got != tt.want || changed != tt.changed {
			t.Errorf("Correct(%q) = %q, %v; want %q, %v", tt.query, got, changed, tt.want, tt.changed)
		}
	}
}
