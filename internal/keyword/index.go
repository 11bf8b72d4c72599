// Package keyword provides BM25 keyword search over note gists, titles and tags.
package keyword

import "context"

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the contribution of title matches. Values <= 1 mean no boost.
	TitleBoost float64
	// Fuzziness is the maximum edit distance for term matching. 0 disables fuzzy matching.
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// DocCount returns the total number of notes in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}

// TermDictionary exposes indexed terms with their document frequency.
type TermDictionary interface {
	Terms() (map[string]int, error)
}
