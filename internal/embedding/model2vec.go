package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/kioku/pkg/utils"
)

// Model directory file names.
const (
	ModelFile     = "model.safetensors"
	TokenizerFile = "tokenizer.json"
	ConfigFile    = "config.json"
)

type model2VecConfig struct {
	Normalize    *bool `json:"normalize"`
	MaxSeqLength int   `json:"max_seq_length"`
}

// Model2VecEmbedder averages static token embeddings. It must be loaded before use.
type Model2VecEmbedder struct {
	mu        sync.RWMutex
	table     *Matrix
	tokenizer Tokenizer
	normalize bool
	maxTokens int
}

// NewModel2VecEmbedder returns an unloaded embedder.
func NewModel2VecEmbedder() *Model2VecEmbedder {
	return &Model2VecEmbedder{}
}

// Load parses the safetensors table, tokenizer.json and config.json buffers.
func (e *Model2VecEmbedder) Load(modelBytes, tokenizerBytes, configBytes []byte) error {
	var cfg model2VecConfig
	if len(configBytes) > 0 {
		if err := json.Unmarshal(configBytes, &cfg); err != nil {
			return fmt.Errorf("parse config.json: %w", err)
		}
	}
	tok, err := ParseTokenizer(tokenizerBytes)
	if err != nil {
		return err
	}
	table, err := ReadSafetensor(modelBytes, "embeddings", "0")
	if err != nil {
		return err
	}
	if table.Rows == 0 || table.Cols == 0 {
		return fmt.Errorf("embedding table is empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = table
	e.tokenizer = tok
	e.normalize = cfg.Normalize == nil || *cfg.Normalize
	e.maxTokens = cfg.MaxSeqLength
	return nil
}

// LoadDir loads model.safetensors, tokenizer.json and config.json from dir.
func (e *Model2VecEmbedder) LoadDir(dir string) error {
	model, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	tok, err := os.ReadFile(filepath.Join(dir, TokenizerFile))
	if err != nil {
		return fmt.Errorf("read tokenizer: %w", err)
	}
	cfg, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}
	return e.Load(model, tok, cfg)
}

// Embed returns the mean of the token rows, L2-normalized when the model config asks for it.
func (e *Model2VecEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return nil, ErrNotLoaded
	}

	ids := e.tokenizer.Encode(text)
	if e.maxTokens > 0 && len(ids) > e.maxTokens {
		ids = ids[:e.maxTokens]
	}

	dim := e.table.Cols
	sum := make([]float64, dim)
	count := 0
	for _, id := range ids {
		if id < 0 || id >= e.table.Rows {
			continue
		}
		for i, v := range e.table.Row(id) {
			sum[i] += float64(v)
		}
		count++
	}

	out := make([]float32, dim)
	if count == 0 {
		return out, nil
	}
	for i := range sum {
		out[i] = float32(sum[i] / float64(count))
	}
	if e.normalize {
		utils.NormalizeL2(out)
	}
	return out, nil
}

// Dimensions returns the table width, or 0 before Load.
func (e *Model2VecEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return 0
	}
	return e.table.Cols
}

// VocabSize returns the number of table rows, or 0 before Load.
func (e *Model2VecEmbedder) VocabSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.table == nil {
		return 0
	}
	return e.table.Rows
}

// Mode returns ModeModel2Vec.
func (e *Model2VecEmbedder) Mode() Mode { return ModeModel2Vec }

// Ready reports whether Load has succeeded.
func (e *Model2VecEmbedder) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table != nil
}
