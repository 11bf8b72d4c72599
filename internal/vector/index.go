// Package vector provides approximate and exact nearest-neighbor indexes over
// embedding vectors, keyed by note id, with a checksummed binary encoding.
package vector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's width differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDeserialize is returned for truncated, foreign, or corrupt index bytes.
	ErrDeserialize = errors.New("index deserialize failed")
)

// VectorIndex stores one live vector per id and answers cosine-similarity queries.
// Implementations are safe for concurrent use: searches may overlap, mutations are exclusive.
type VectorIndex interface {
	// Insert adds or replaces the entry for id.
	Insert(id string, vec []float32) error
	// Delete tombstones the entry for id and reports whether it was live.
	Delete(id string) bool
	Contains(id string) bool
	Vector(id string) ([]float32, bool)
	// Search returns up to k results by descending similarity. ef sizes the
	// candidate frontier where the index is approximate.
	Search(query []float32, k, ef int) ([]*VectorResult, error)
	// Len counts live entries.
	Len() int
	IsEmpty() bool
	Dimensions() int
	Type() IndexType
	MarshalBinary() ([]byte, error)
}

// Compactor is implemented by indexes that keep tombstones physically.
type Compactor interface {
	Tombstones() int
	Compact() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"` // cosine similarity
}

// Embedder is the subset of embedding.Embedder the text helpers need.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// InsertText embeds text and inserts it under id.
func InsertText(ctx context.Context, idx VectorIndex, e Embedder, id, text string) error {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed %s: %w", id, err)
	}
	return idx.Insert(id, vec)
}

// SearchText embeds text and searches with it.
func SearchText(ctx context.Context, idx VectorIndex, e Embedder, text string, k, ef int) ([]*VectorResult, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return idx.Search(vec, k, ef)
}

func checkDim(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, got, want)
	}
	return nil
}
