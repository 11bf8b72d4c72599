// Package search provides hybrid search (keyword + semantic), reciprocal-rank
// fusion, and metadata-boosted related notes.
package search

import (
	"sort"

	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// FusedResult holds a note ID and its fused keyword/semantic scores.
type FusedResult struct {
	ID            string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// FuseRRF merges two ranked lists with weighted reciprocal-rank fusion:
// each list adds weight/(k+rank+1) for every id it holds, rank counted from 0.
// Results are sorted by fused score, ties by id.
func FuseRRF(keywordResults []*keyword.KeywordResult, semanticResults []*vector.VectorResult, keywordWeight, semanticWeight, k float64) []*FusedResult {
	byID := make(map[string]*FusedResult, len(keywordResults)+len(semanticResults))
	get := func(id string) *FusedResult {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{ID: id}
			byID[id] = r
		}
		return r
	}
	for rank, kr := range keywordResults {
		r := get(kr.ID)
		r.KeywordScore = kr.Score
		r.Score += keywordWeight / (k + float64(rank) + 1)
	}
	for rank, sr := range semanticResults {
		r := get(sr.ID)
		r.SemanticScore = sr.Score
		r.Score += semanticWeight / (k + float64(rank) + 1)
	}
	results := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		results = append(results, r)
	}
	sortFused(results)
	return results
}

func sortFused(results []*FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// Weights of the boosted related-note score.
const (
	SemanticBoostWeight = 0.7
	MetadataBoostWeight = 0.3
)

// MetadataScore is 0.5 for a shared type plus 0.5 for a shared area.
// Empty values never match.
func MetadataScore(a, b *models.Record) float64 {
	score := 0.0
	if t := a.Type(); t != "" && t == b.Type() {
		score += 0.5
	}
	if area := a.Area(); area != "" && area == b.Area() {
		score += 0.5
	}
	return score
}

// Boost blends a semantic similarity with a metadata score.
func Boost(semantic, metadata float64) float64 {
	return SemanticBoostWeight*semantic + MetadataBoostWeight*metadata
}
