package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kalambet/leadnexus/internal/vector"
)

// Cache stores embeddings keyed by model and text. Implementations treat
// every failure as a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "leadnexus:emb:" + model + ":" + hex.EncodeToString(sum[:])
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]float32, bool) { return nil, false }
func (NopCache) Set(context.Context, string, []float32)        {}

// RedisCache keeps embeddings in Redis as float32 BLOBs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisCache{client: rdb, ttl: ttl}, nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("embedding cache read failed", "error", err)
		}
		return nil, false
	}
	vec, err := vector.Decode(b)
	if err != nil {
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) {
	if err := c.client.Set(ctx, key, vector.Encode(vec), c.ttl).Err(); err != nil {
		slog.Debug("embedding cache write failed", "error", err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
