package usage

import (
	"fmt"

	"github.com/hupe1980/ragserve/model"
	"github.com/hupe1980/ragserve/planner"
)

// Recommendation proposes an index-type change for one shard. Applying it is
// the operator's call; the service never rebuilds indices on its own.
type Recommendation struct {
	ShardID     string          `json:"shard_id"`
	Current     model.IndexType `json:"current"`
	Recommended model.IndexType `json:"recommended"`
	Reason      string          `json:"reason"`
}

// OptimizerConfig configures the recommendation pass.
type OptimizerConfig struct {
	// MinQueries is the sample size below which no recommendation is made.
	MinQueries int64

	// Thresholds are the corpus size cutoffs shared with the planner, so
	// recommendations agree with planning decisions.
	Thresholds planner.Config
}

// Optimizer compares the recorded query pattern against per-shard index
// types.
type Optimizer struct {
	cfg OptimizerConfig
}

// NewOptimizer creates an optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	if cfg.MinQueries <= 0 {
		cfg.MinQueries = 50
	}
	cfg.Thresholds.ApplyDefaults()
	return &Optimizer{cfg: cfg}
}

// Optimize derives recommendations from the usage snapshot and the current
// shard layout. It is meant to run periodically, not per query.
func (o *Optimizer) Optimize(snap Snapshot, shards []model.ShardInfo) []Recommendation {
	if snap.TotalQueries < o.cfg.MinQueries {
		return nil
	}

	dominant, ok := snap.DominantBucket()
	if !ok {
		return nil
	}

	var recs []Recommendation
	for _, shard := range shards {
		if rec, ok := o.recommend(dominant, shard); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

func (o *Optimizer) recommend(dominant BucketStats, shard model.ShardInfo) (Recommendation, bool) {
	want := o.desiredIndexType(dominant, shard.DocumentCount)
	if want == shard.IndexType {
		return Recommendation{}, false
	}

	return Recommendation{
		ShardID:     shard.ID,
		Current:     shard.IndexType,
		Recommended: want,
		Reason: fmt.Sprintf("dominant pattern is %s/%s over %d queries, shard holds %d documents",
			dominant.LengthClass, filterWord(dominant.Filtered), dominant.Queries, shard.DocumentCount),
	}, true
}

// desiredIndexType mirrors the planner's selection so a shard converges to
// the index its dominant traffic would pick.
func (o *Optimizer) desiredIndexType(dominant BucketStats, docCount int64) model.IndexType {
	if docCount <= o.cfg.Thresholds.FlatScanMaxDocs {
		return model.IndexFlat
	}
	if dominant.LengthClass == Short && !dominant.Filtered {
		return model.IndexFlat
	}
	if docCount >= o.cfg.Thresholds.LargeShardMinDocs {
		return model.IndexIVFPQ
	}
	return model.IndexHNSW
}

func filterWord(filtered bool) string {
	if filtered {
		return "filtered"
	}
	return "unfiltered"
}
