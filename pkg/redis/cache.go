package redis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zereker/vectorstore/pkg/log"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KV is the subset of redis the cache needs. A miss returns nil, nil.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type clientKV struct {
	client *redis.Client
}

// NewKV adapts a redis client.
func NewKV(client *redis.Client) KV {
	return &clientKV{client: client}
}

func (c *clientKV) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (c *clientKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// EmbeddingCache serves repeated texts from redis and delegates misses to the wrapped
// embedder. Cache errors are logged and never fail an embedding.
type EmbeddingCache struct {
	logger   *slog.Logger
	kv       KV
	embedder Embedder
	prefix   string
	ttl      time.Duration
}

// NewEmbeddingCache wraps embedder. model namespaces the keys so that switching models
// never serves stale vectors.
func NewEmbeddingCache(kv KV, embedder Embedder, model string, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		logger:   log.Logger("redis.cache"),
		kv:       kv,
		embedder: embedder,
		prefix:   "embedding:" + model + ":",
		ttl:      ttl,
	}
}

// Embed returns the cached vector of text, embedding and storing it on a miss.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	cached, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
	} else if cached != nil {
		if vec, err := decodeVector(cached); err == nil {
			return vec, nil
		}
		c.logger.Warn("discarding corrupt cached embedding", "key", key)
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.kv.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// encodeVector packs vec as little-endian float32 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid encoded vector length %d", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
