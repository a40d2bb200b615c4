package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/klauspost/compress/gzip"
)

// Payload framing for the shared level. The first byte records whether the
// remainder is raw or gzip-compressed.
const (
	frameRaw  byte = 0
	frameGzip byte = 1
)

// RedisLevelConfig configures the Redis-backed shared level.
type RedisLevelConfig struct {
	// Addr is the Redis server address ("host:port").
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces all entries (default "ragserve:").
	KeyPrefix string

	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration

	// CompressionThreshold is the payload size in bytes above which entries
	// are gzip-compressed. 0 uses the default of 1 KiB, negative disables
	// compression.
	CompressionThreshold int
}

// RedisLevel is the shared level: a network cache visible to all instances
// of the service. Larger payloads are gzip-compressed before transmission.
type RedisLevel struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	threshold int
}

// NewRedisLevel connects to Redis and verifies the connection.
func NewRedisLevel(ctx context.Context, cfg RedisLevelConfig) (*RedisLevel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisLevelFromClient(client, cfg), nil
}

// NewRedisLevelFromClient wraps an existing client. The level takes
// ownership and closes it on Close.
func NewRedisLevelFromClient(client *redis.Client, cfg RedisLevelConfig) *RedisLevel {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ragserve:"
	}

	threshold := cfg.CompressionThreshold
	if threshold == 0 {
		threshold = 1024
	}

	return &RedisLevel{
		client:    client,
		keyPrefix: prefix,
		ttl:       cfg.DefaultTTL,
		threshold: threshold,
	}
}

// Name implements Level.
func (c *RedisLevel) Name() string { return "shared" }

// Get returns the cached payload or ErrMiss.
func (c *RedisLevel) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return decodeFrame(data)
}

// Set stores the payload.
func (c *RedisLevel) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	framed, err := c.encodeFrame(data)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.keyPrefix+key, framed, ttl).Err()
}

// Delete removes the entry.
func (c *RedisLevel) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Close implements Level.
func (c *RedisLevel) Close() error {
	return c.client.Close()
}

func (c *RedisLevel) encodeFrame(data []byte) ([]byte, error) {
	if c.threshold < 0 || len(data) < c.threshold {
		return append([]byte{frameRaw}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(frameGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFrame(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty cache payload")
	}

	switch data[0] {
	case frameRaw:
		return data[1:], nil
	case frameGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unknown cache frame marker %d", data[0])
	}
}
