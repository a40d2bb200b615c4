// Package cache implements the multi-level result cache: an in-process fast
// level, a shared level (Redis or DynamoDB), and a durable level on object
// storage. The Manager probes levels fastest first and promotes hits.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a Level when the key is absent or expired.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrMiss)`.
var ErrMiss = errors.New("cache miss")

// Level is one tier of the cache hierarchy.
// Implementations must be safe for concurrent use.
type Level interface {
	// Name identifies the level in logs and stats ("fast", "shared",
	// "durable").
	Name() string

	// Get returns the cached payload or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the payload with the given lifetime. ttl <= 0 means the
	// level's default.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases level resources.
	Close() error
}
