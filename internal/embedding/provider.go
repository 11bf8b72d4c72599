package embedding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Provider holds the active Embedder and lets callers swap it at runtime.
// It implements Embedder by delegating to the active variant.
type Provider struct {
	mu         sync.RWMutex
	active     Embedder
	generation atomic.Uint64
	logger     *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger for variant swaps.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = l
	}
}

// NewProvider returns a Provider with e active.
func NewProvider(e Embedder, opts ...ProviderOption) *Provider {
	p := &Provider{active: e}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// New builds the embedder for mode. model2vec loads from modelDir.
func New(mode Mode, modelDir string) (Embedder, error) {
	switch mode {
	case ModeHTP, "":
		return NewHTPEmbedder(), nil
	case ModeModel2Vec:
		if modelDir == "" {
			return nil, fmt.Errorf("model2vec requires a model directory")
		}
		m := NewModel2VecEmbedder()
		if err := m.LoadDir(modelDir); err != nil {
			return nil, fmt.Errorf("load model2vec from %s: %w", modelDir, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown embedding mode %q", mode)
	}
}

// Active returns the current embedder.
func (p *Provider) Active() Embedder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Swap replaces the active embedder and bumps the generation.
func (p *Provider) Swap(e Embedder) {
	p.mu.Lock()
	prev := p.active
	p.active = e
	p.mu.Unlock()
	gen := p.generation.Add(1)
	if p.logger != nil {
		p.logger.Info("embedder swapped",
			zap.String("from", string(prev.Mode())),
			zap.String("to", string(e.Mode())),
			zap.Int("dimensions", e.Dimensions()),
			zap.Uint64("generation", gen))
	}
}

// Generation increases on every Swap.
func (p *Provider) Generation() uint64 {
	return p.generation.Load()
}

// Embed delegates to the active embedder.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.Active().Embed(ctx, text)
}

// Dimensions of the active embedder.
func (p *Provider) Dimensions() int { return p.Active().Dimensions() }

// Mode of the active embedder.
func (p *Provider) Mode() Mode { return p.Active().Mode() }

// Ready reports whether the active embedder can embed.
func (p *Provider) Ready() bool { return p.Active().Ready() }
