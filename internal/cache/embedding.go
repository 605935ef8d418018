// Package cache provides the redis-backed embedding cache.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config configures the redis connection and entry lifetime.
type Config struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:6379",
		PoolSize: 10,
		TTL:      24 * time.Hour,
	}
}

// EmbeddingCache stores embedding vectors keyed by a SHA256 of the source
// text, so re-processing the same correspondence does not re-embed it.
// Failures degrade to a miss; the cache never fails a retrieval.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewEmbeddingCache creates a cache on a fresh redis client.
func NewEmbeddingCache(cfg Config, logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return newEmbeddingCache(client, cfg.TTL, logger)
}

// NewEmbeddingCacheWithClient wraps an existing client. Tests use it with
// miniredis.
func NewEmbeddingCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newEmbeddingCache(client, ttl, logger)
}

func newEmbeddingCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{
		client: client,
		ttl:    ttl,
		prefix: "mailflow:embedding:",
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

// Key derives the cache key for a text.
func (c *EmbeddingCache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached vector and whether it was present.
func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float64, bool) {
	data, err := c.client.Get(ctx, c.Key(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("embedding cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return vec, true
}

// Set stores the vector under the text's key.
func (c *EmbeddingCache) Set(ctx context.Context, text string, vec []float64) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(text), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// Close releases the redis client.
func (c *EmbeddingCache) Close() error {
	return c.client.Close()
}
