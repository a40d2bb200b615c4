// Package planner builds query plans: it selects an index strategy from the
// query shape and corpus size, prunes the shard fan-out through the
// directory's term index, and stamps every plan with a fresh query ID.
package planner

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hupe1980/ragserve/model"
)

var (
	// ErrNoTargetShards is returned when shard pruning leaves nothing to
	// query.
	ErrNoTargetShards = errors.New("no target shards")

	// ErrInvalidTopK is returned when top_k is not positive.
	ErrInvalidTopK = errors.New("top_k must be positive")
)

// Config holds the index selection thresholds. The defaults are starting
// points, not measurements; tune them against the actual corpus.
type Config struct {
	// ShortQueryMaxLen is the rune length up to which an unfiltered query
	// counts as short and gets an exact flat scan.
	ShortQueryMaxLen int

	// FlatScanMaxDocs is the per-shard document count up to which a flat
	// scan is always affordable, regardless of query shape.
	FlatScanMaxDocs int64

	// LargeShardMinDocs is the per-shard document count from which the
	// quantized index is preferred over the graph index.
	LargeShardMinDocs int64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		ShortQueryMaxLen:  48,
		FlatScanMaxDocs:   10_000,
		LargeShardMinDocs: 250_000,
	}
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ShortQueryMaxLen <= 0 {
		c.ShortQueryMaxLen = d.ShortQueryMaxLen
	}
	if c.FlatScanMaxDocs <= 0 {
		c.FlatScanMaxDocs = d.FlatScanMaxDocs
	}
	if c.LargeShardMinDocs <= 0 {
		c.LargeShardMinDocs = d.LargeShardMinDocs
	}
}

// Validate checks the thresholds for consistency.
func (c *Config) Validate() error {
	if c.FlatScanMaxDocs > c.LargeShardMinDocs {
		return fmt.Errorf("flat scan ceiling %d exceeds large shard floor %d", c.FlatScanMaxDocs, c.LargeShardMinDocs)
	}
	return nil
}

// Directory is the shard layout view the planner needs.
type Directory interface {
	// Prune returns the shards that can hold documents matching the filter.
	Prune(filter model.Filter) []string

	// MaxDocCount returns the largest per-shard document count.
	MaxDocCount() int64
}

// Planner builds query plans.
type Planner struct {
	cfg Config
	dir Directory
}

// New creates a planner over the given directory.
func New(cfg Config, dir Directory) *Planner {
	cfg.ApplyDefaults()
	return &Planner{cfg: cfg, dir: dir}
}

// Plan resolves the execution decisions for one query. Planning fails fast,
// before any network call, when the plan could not be executed.
//
// Every call returns a plan with a fresh query ID, even for identical
// inputs. Result reuse is the cache's job, not the planner's.
func (p *Planner) Plan(query string, topK int, filter model.Filter) (model.QueryPlan, error) {
	if topK <= 0 {
		return model.QueryPlan{}, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}

	normalized := strings.Join(strings.Fields(query), " ")
	queryLen := utf8.RuneCountInString(normalized)

	targets := p.dir.Prune(filter)
	if len(targets) == 0 {
		return model.QueryPlan{}, fmt.Errorf("%w: filter %v matches no shard", ErrNoTargetShards, filter)
	}

	return model.QueryPlan{
		QueryID:      uuid.NewString(),
		IndexType:    p.selectIndexType(queryLen, filter),
		TargetShards: targets,
		TopK:         topK,
		Filter:       filter,
		QueryLen:     queryLen,
	}, nil
}

// selectIndexType picks the index strategy. Short unfiltered queries and
// small shards get the exact scan; beyond that the query is served
// approximately, quantized once shards grow large.
func (p *Planner) selectIndexType(queryLen int, filter model.Filter) model.IndexType {
	maxDocs := p.dir.MaxDocCount()

	if maxDocs <= p.cfg.FlatScanMaxDocs {
		return model.IndexFlat
	}
	if queryLen <= p.cfg.ShortQueryMaxLen && filter.Empty() {
		return model.IndexFlat
	}
	if maxDocs >= p.cfg.LargeShardMinDocs {
		return model.IndexIVFPQ
	}
	return model.IndexHNSW
}
