package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/engine"
	"github.com/kalambet/leadnexus/internal/vector"
)

// Embedder wraps an Engine to generate fixed-length text embeddings.
type Embedder struct {
	engine engine.Engine
	model  string
	dim    int
	cache  Cache
	logger *slog.Logger
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// A nil cache disables caching.
func NewEmbedder(e engine.Engine, model string, cache Cache) *Embedder {
	if cache == nil {
		cache = NopCache{}
	}
	return &Embedder{engine: e, model: model, dim: vector.Dimension, cache: cache, logger: slog.Default()}
}

// Embed returns the embedding vector for a single text, always exactly
// vector.Dimension long.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.ValidationFailure, "cannot embed empty text")
	}
	key := cacheKey(e.model, text)
	if vec, ok := e.cache.Get(ctx, key); ok && len(vec) == e.dim {
		return vec, nil
	}

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		if apperr.KindOf(err) != apperr.Unknown {
			return nil, fmt.Errorf("embedding text: %w", err)
		}
		return nil, apperr.Wrap(apperr.UpstreamProviderFailure, err, "embedding text")
	}
	if len(vec) != e.dim {
		e.logger.Debug("normalizing embedding dimension", "model", e.model, "got", len(vec), "want", e.dim)
		vec = vector.Normalize(vec, e.dim)
	}
	e.cache.Set(ctx, key, vec)
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Output index i corresponds to texts[i]. Returns nil (not error) for
// empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
