// Package rediscache memoizes embeddings in Redis. Redis trouble never fails
// a call; it only costs a trip to the wrapped embedder.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultKeyPrefix = "emb:"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type CachedEmbedder struct {
	next   Embedder
	redis  goredis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewCachedEmbedder wraps next. Keys are namespaced by model so switching
// embedding models never serves stale vectors.
func NewCachedEmbedder(next Embedder, redis goredis.UniversalClient, model string, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedEmbedder{next: next, redis: redis, ttl: ttl, prefix: DefaultKeyPrefix + model + ":"}
}

func (c *CachedEmbedder) key(text string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(hash[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v []float32
		if err := json.Unmarshal(data, &v); err == nil && len(v) > 0 {
			slog.DebugContext(ctx, "embedding cache hit", "key", key)
			return v, nil
		}
		slog.WarnContext(ctx, "dropping corrupt cached embedding", "key", key)
		_ = c.redis.Del(ctx, key).Err()
	case !errors.Is(err, goredis.Nil):
		slog.WarnContext(ctx, "redis get failed, falling back to embedder", "error", err)
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, map[string][]float32{key: v})
	return v, nil
}

// EmbedBatch looks all texts up with one MGET and embeds only the misses, in
// one call to the wrapped embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		slog.WarnContext(ctx, "redis mget failed, falling back to embedder", "error", err)
		vals = nil
	}
	for i, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var v []float32
		if err := json.Unmarshal([]byte(s), &v); err == nil && len(v) > 0 {
			out[i] = v
		}
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	slog.DebugContext(ctx, "embedding cache batch", "total", len(texts), "misses", len(missTexts))
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, errors.New("embedder returned a different number of vectors than texts")
	}
	fresh := make(map[string][]float32, len(vecs))
	for j, i := range missIdx {
		out[i] = vecs[j]
		fresh[keys[i]] = vecs[j]
	}
	c.store(ctx, fresh)
	return out, nil
}

func (c *CachedEmbedder) store(ctx context.Context, entries map[string][]float32) {
	pipe := c.redis.Pipeline()
	for key, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		pipe.Set(ctx, key, data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "failed to cache embeddings", "count", len(entries), "error", err)
	}
}
