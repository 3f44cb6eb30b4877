package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// VectorCache stores vectors keyed by content hash so a resync never pays for
// the same embedding twice.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, vector []float32)
}

// CacheKey derives the cache key for one text under a model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// RedisCache backs VectorCache with redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisCache creates a redis-backed vector cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *log.Logger) *RedisCache {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get fetches a cached vector. Cache errors are treated as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("Embedding cache read failed: %v", err)
		}
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false
	}
	return vector, true
}

// Put stores a vector. Failures are logged and ignored.
func (c *RedisCache) Put(ctx context.Context, key string, vector []float32) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Printf("Embedding cache write failed: %v", err)
	}
}

// LRUCache backs VectorCache with an in-process LRU. Used when redis is not
// configured.
type LRUCache struct {
	cache *lru.Cache[string, []float32]
}

// NewLRUCache creates an in-process vector cache holding up to size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

// Get fetches a cached vector.
func (c *LRUCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.cache.Get(key)
}

// Put stores a vector.
func (c *LRUCache) Put(_ context.Context, key string, vector []float32) {
	c.cache.Add(key, vector)
}

// CachedProvider wraps a Provider with a VectorCache. Only cache misses reach
// the underlying provider; results are written back on success.
type CachedProvider struct {
	inner  Provider
	cache  VectorCache
	model  string
	logger *log.Logger
}

// NewCachedProvider wraps inner with cache.
func NewCachedProvider(inner Provider, cache VectorCache, model string, logger *log.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, model: model, logger: logger}
}

// Embed serves cached vectors where possible and embeds only the misses.
func (p *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if v, ok := p.cache.Get(ctx, CacheKey(p.model, text)); ok {
			vectors[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}
	if len(missTexts) < len(texts) {
		p.logger.Printf("Embedding cache: %d hits, %d misses", len(texts)-len(missTexts), len(missTexts))
	}

	fresh, err := p.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range fresh {
		i := missIdx[j]
		vectors[i] = v
		p.cache.Put(ctx, CacheKey(p.model, texts[i]), v)
	}
	return vectors, nil
}

// Dimension delegates to the wrapped provider.
func (p *CachedProvider) Dimension() int {
	return p.inner.Dimension()
}

// Ping delegates to the wrapped provider.
func (p *CachedProvider) Ping(ctx context.Context) error {
	return p.inner.Ping(ctx)
}

var _ Provider = (*CachedProvider)(nil)
