package engine

import "errors"

var (
	// ErrAllShardsFailed is returned when no targeted shard produced a
	// result. Partial failures are not errors; they only shrink the result.
	ErrAllShardsFailed = errors.New("all shards failed")

	// ErrCoordinatorClosed is returned when work is submitted after Close.
	ErrCoordinatorClosed = errors.New("coordinator is closed")
)
