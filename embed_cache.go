package aspectscore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
)

// CachedEmbedder wraps an Embedder with the store's embedding cache.
// Entries are keyed by model and normalized text, so switching models
// never returns stale vectors.
type CachedEmbedder struct {
	inner  Embedder
	store  *Store
	logger logrus.FieldLogger
}

// NewCachedEmbedder returns inner backed by the embedding cache in store.
func NewCachedEmbedder(inner Embedder, store *Store, logger logrus.FieldLogger) *CachedEmbedder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedEmbedder{inner: inner, store: store, logger: logger}
}

// Embed returns the cached vector for text, computing and storing it on a miss.
// Cache read and write failures are logged and fall through to the inner
// embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = NormalizeText(text)
	key := EmbeddingCacheKey(c.inner.ModelID(), text)

	vec, ok, err := c.store.CachedEmbedding(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("embedding cache read failed")
	}
	if ok {
		return vec, nil
	}

	vec, err = c.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if err := c.store.PutCachedEmbedding(ctx, key, c.inner.ModelID(), vec); err != nil {
		c.logger.WithError(err).Warn("embedding cache write failed")
	}
	return vec, nil
}

// Dimension returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// ModelID returns the inner embedder's model id.
func (c *CachedEmbedder) ModelID() string { return c.inner.ModelID() }

// EmbeddingCacheKey is the hex SHA-1 of "model|text".
func EmbeddingCacheKey(model, text string) string {
	h := sha1.Sum([]byte(model + "|" + text))
	return hex.EncodeToString(h[:])
}
