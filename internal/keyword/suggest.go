package keyword

import (
	"strings"
	"unicode"
)

// Suggester proposes corrections for query terms missing from the index.
type Suggester struct {
	dict        TermDictionary
	maxDistance int
}

// NewSuggester creates a Suggester. maxDistance <= 0 uses 2.
func NewSuggester(dict TermDictionary, maxDistance int) *Suggester {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	return &Suggester{dict: dict, maxDistance: maxDistance}
}

// Correct returns the query with unknown terms replaced by their closest
// indexed term, and whether anything changed. Closer terms win, then more
// frequent ones, then lexical order.
func (s *Suggester) Correct(query string) (string, bool, error) {
	terms, err := s.dict.Terms()
	if err != nil {
		return "", false, err
	}
	words := tokenizeQuery(query)
	changed := false
	for i, w := range words {
		if _, ok := terms[w]; ok {
			continue
		}
		if best, ok := s.closest(w, terms); ok {
			words[i] = best
			changed = true
		}
	}
	return strings.Join(words, " "), changed, nil
}

func (s *Suggester) closest(word string, terms map[string]int) (string, bool) {
	best, bestDist, bestFreq := "", s.maxDistance+1, 0
	n := len([]rune(word))
	for term, freq := range terms {
		if d := len([]rune(term)) - n; d > s.maxDistance || -d > s.maxDistance {
			continue
		}
		dist := LevenshteinDistance(word, term)
		switch {
		case dist < bestDist,
			dist == bestDist && freq > bestFreq,
			dist == bestDist && freq == bestFreq && term < best:
			best, bestDist, bestFreq = term, dist, freq
		}
	}
	return best, best != "" && bestDist <= s.maxDistance
}

// tokenizeQuery lowercases query and splits it on anything but letters and digits.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// LevenshteinDistance is the number of single-rune insertions, deletions or
// substitutions that turn a into b.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
