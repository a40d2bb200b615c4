// Package blobstore abstracts the object storage backing the durable cache
// level. Entries are small whole objects written once and read many times.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for whole-object storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the full contents of the object.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes an object atomically, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all object keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
