// Package embedding maps note text to fixed-dimension vectors. It provides a
// deterministic hash projection (HTP), a static neural table (Model2Vec),
// a switchable Provider, and an LRU cache wrapper.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Mode identifies an embedder variant.
type Mode string

const (
	// ModeHTP is the deterministic hash-trigonometric projection.
	ModeHTP Mode = "htp"
	// ModeModel2Vec is the static token-embedding table loaded from a model directory.
	ModeModel2Vec Mode = "model2vec"
)

// ErrNotLoaded is returned when a neural embedder is used before Load.
var ErrNotLoaded = errors.New("embedder not loaded")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Mode() Mode
	Ready() bool
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHTP, ModeModel2Vec:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown embedding mode %q (supported: htp, model2vec)", s)
}
