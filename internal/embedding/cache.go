package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// CachedEmbedder memoizes vectors per text. Repeated queries and
// re-stored utterances skip the provider round trip.
type CachedEmbedder struct {
	base   Embedder
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewCachedEmbedder wraps base with a cache holding up to maxItems vectors.
func NewCachedEmbedder(base Embedder, maxItems int64, logger *zap.Logger) (*CachedEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		// Cost is counted in vectors, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &CachedEmbedder{base: base, cache: cache, logger: logger.Named("embedding")}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.(Vector)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.base.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.Set(missTexts[j], v, 1)
	}
	c.logger.Debug("embedded",
		zap.Int("hits", len(texts)-len(missTexts)),
		zap.Int("misses", len(missTexts)))
	return out, nil
}

func (c *CachedEmbedder) Dims() int { return c.base.Dims() }

// Wait blocks until pending cache writes are visible.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *CachedEmbedder) Close() { c.cache.Close() }
