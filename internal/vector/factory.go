package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeHNSW is the approximate graph index. Default.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat is exact brute-force search. Good for small vaults (<10k notes).
	IndexTypeFlat IndexType = "flat"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "hnsw" (default), "flat". seed only affects hnsw.
func NewVectorIndex(indexType string, dimensions int, seed int64) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeHNSW, "":
		return NewHNSWIndex(dimensions, WithSeed(seed))
	case IndexTypeFlat:
		return NewFlatIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, flat)", indexType)
	}
}
