package ragserve

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ragserve/engine"
	"github.com/hupe1980/ragserve/planner"
)

var (
	// ErrEmptyQuery is returned when the query text is empty after
	// normalization.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrInvalidTopK is returned when top_k is not positive.
	ErrInvalidTopK = errors.New("top_k must be positive")

	// ErrRetrievalFailed is returned when every targeted shard failed and no
	// documents could be retrieved.
	ErrRetrievalFailed = errors.New("retrieval failed on all shards")

	// ErrInvalidQueryPlan is returned when planning produces an unexecutable
	// plan. No retrieval is attempted in that case.
	ErrInvalidQueryPlan = errors.New("invalid query plan")

	// ErrClosed is returned by operations on a closed service.
	ErrClosed = errors.New("service is closed")
)

// ErrBatchItem wraps a failure of one item in a query_many batch. It carries
// the item index so callers can correlate results with inputs.
type ErrBatchItem struct {
	Index int
	cause error
}

func (e *ErrBatchItem) Error() string {
	return fmt.Sprintf("batch item %d: %v", e.Index, e.cause)
}

func (e *ErrBatchItem) Unwrap() error { return e.cause }

// ErrEmbedding indicates the embedding client failed; the query cannot
// proceed without a vector.
type ErrEmbedding struct {
	cause error
}

func (e *ErrEmbedding) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.cause)
}

func (e *ErrEmbedding) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrAllShardsFailed) {
		return fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
	if errors.Is(err, planner.ErrNoTargetShards) || errors.Is(err, planner.ErrInvalidTopK) {
		return fmt.Errorf("%w: %w", ErrInvalidQueryPlan, err)
	}

	return err
}
