// Package engine executes query plans: it fans a plan out to its target
// shards over a fixed worker pool, tolerates per-shard failures, and merges
// whatever came back into one ranked result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/ragserve/model"
)

// ShardSearcher is the per-shard retrieval call the coordinator dispatches.
type ShardSearcher interface {
	Search(ctx context.Context, vector []float32, k int, filter model.Filter) ([]model.ScoredDocument, error)
}

// Result is the outcome of executing one plan.
type Result struct {
	// Documents is globally ranked and truncated to the plan's top_k.
	Documents []model.ScoredDocument

	// FailedShards lists shards that errored or missed their deadline.
	FailedShards []string
}

// Partial reports whether at least one shard was dropped.
func (r Result) Partial() bool { return len(r.FailedShards) > 0 }

// Config configures the coordinator.
type Config struct {
	// ShardTimeout bounds each per-shard call independently. A slow shard
	// never blocks its siblings; it is dropped when the timeout fires.
	ShardTimeout time.Duration

	// NumWorkers sizes the fan-out worker pool. Defaults to the shard
	// count.
	NumWorkers int
}

// Coordinator dispatches retrieval calls to shards in parallel.
type Coordinator struct {
	shards       map[string]ShardSearcher
	pool         *WorkerPool
	shardTimeout time.Duration
	logger       *slog.Logger
}

// NewCoordinator creates a coordinator over the given shards. A nil logger
// disables logging.
func NewCoordinator(shards map[string]ShardSearcher, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("at least one shard is required")
	}
	if cfg.ShardTimeout <= 0 {
		cfg.ShardTimeout = 2 * time.Second
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = len(shards)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Coordinator{
		shards:       shards,
		pool:         NewWorkerPool(numWorkers),
		shardTimeout: cfg.ShardTimeout,
		logger:       logger,
	}, nil
}

type shardResult struct {
	shardID string
	docs    []model.ScoredDocument
	err     error
}

// Execute runs the plan against its target shards. Shards that error or
// time out are dropped; ErrAllShardsFailed is returned only when every
// shard failed.
func (c *Coordinator) Execute(ctx context.Context, plan model.QueryPlan, vector []float32) (Result, error) {
	resultsCh := make(chan shardResult, len(plan.TargetShards))

	for _, shardID := range plan.TargetShards {
		shard, ok := c.shards[shardID]
		if !ok {
			resultsCh <- shardResult{shardID: shardID, err: fmt.Errorf("unknown shard %q", shardID)}
			continue
		}

		shardID := shardID
		err := c.pool.Submit(ctx, func() {
			shardCtx, cancel := context.WithTimeout(ctx, c.shardTimeout)
			defer cancel()

			docs, err := shard.Search(shardCtx, vector, plan.TopK, plan.Filter)
			select {
			case resultsCh <- shardResult{shardID: shardID, docs: docs, err: err}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return Result{}, fmt.Errorf("submit shard %s: %w", shardID, err)
		}
	}

	lists := make([][]model.ScoredDocument, 0, len(plan.TargetShards))
	var (
		failed    []string
		shardErrs []error
	)

	for range plan.TargetShards {
		select {
		case res := <-resultsCh:
			if res.err != nil {
				c.logger.Warn("shard dropped from retrieval",
					"query_id", plan.QueryID,
					"shard", res.shardID,
					"error", res.err,
				)
				failed = append(failed, res.shardID)
				shardErrs = append(shardErrs, fmt.Errorf("shard %s: %w", res.shardID, res.err))
				continue
			}
			// Stamp the origin shard so callers can trace references.
			for i := range res.docs {
				if res.docs[i].ShardID == "" {
					res.docs[i].ShardID = res.shardID
				}
			}
			lists = append(lists, res.docs)
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if len(lists) == 0 {
		return Result{}, fmt.Errorf("%w: %w", ErrAllShardsFailed, errors.Join(shardErrs...))
	}

	return Result{
		Documents:    Merge(lists, plan.TopK),
		FailedShards: failed,
	}, nil
}

// Close shuts down the fan-out worker pool.
func (c *Coordinator) Close() {
	c.pool.Close()
}
