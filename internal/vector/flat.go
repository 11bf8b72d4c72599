package vector

import (
	"fmt"
	"sort"
	"sync"
)

type flatEntry struct {
	id     string
	vector []float32
	norm   float64
}

// FlatIndex is an exact index using brute-force cosine search.
// Suitable for small vaults and as ground truth for the graph index.
type FlatIndex struct {
	dimensions int
	entries    []flatEntry
	byID       map[string]int
	mu         sync.RWMutex
}

// NewFlatIndex creates an exact index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		byID:       make(map[string]int),
	}, nil
}

// Type returns IndexTypeFlat.
func (f *FlatIndex) Type() IndexType { return IndexTypeFlat }

// Dimensions returns the vector width.
func (f *FlatIndex) Dimensions() int { return f.dimensions }

// Insert appends vec under id, removing any prior entry so the id moves to the end of insertion order.
func (f *FlatIndex) Insert(id string, vec []float32) error {
	if err := checkDim(len(vec), f.dimensions); err != nil {
		return err
	}
	v := make([]float32, len(vec))
	copy(v, vec)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(id)
	f.byID[id] = len(f.entries)
	f.entries = append(f.entries, flatEntry{id: id, vector: v, norm: L2Norm(v)})
	return nil
}

// Delete removes the entry for id.
func (f *FlatIndex) Delete(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeLocked(id)
}

func (f *FlatIndex) removeLocked(id string) bool {
	i, ok := f.byID[id]
	if !ok {
		return false
	}
	f.entries = append(f.entries[:i], f.entries[i+1:]...)
	delete(f.byID, id)
	for j := i; j < len(f.entries); j++ {
		f.byID[f.entries[j].id] = j
	}
	return true
}

// Contains reports whether id is present.
func (f *FlatIndex) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.byID[id]
	return ok
}

// Vector returns a copy of the vector for id.
func (f *FlatIndex) Vector(id string) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, f.dimensions)
	copy(out, f.entries[i].vector)
	return out, true
}

// Search returns the top-k entries by cosine similarity. ef is ignored.
func (f *FlatIndex) Search(query []float32, k, _ int) ([]*VectorResult, error) {
	if err := checkDim(len(query), f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.entries) == 0 {
		return []*VectorResult{}, nil
	}
	qNorm := L2Norm(query)
	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, len(f.entries))
	for i, e := range f.entries {
		scores[i] = scored{id: e.id, score: cosine(query, qNorm, e.vector, e.norm)}
	}
	// stable keeps insertion order among equal scores
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		result[i] = &VectorResult{ID: scores[i].id, Score: scores[i].score}
	}
	return result, nil
}

// Len returns the number of vectors in the index.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// IsEmpty reports whether the index holds no vectors.
func (f *FlatIndex) IsEmpty() bool { return f.Len() == 0 }
