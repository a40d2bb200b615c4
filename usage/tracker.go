// Package usage aggregates query shape statistics and derives index-type
// recommendations from them.
package usage

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/ragserve/model"
)

// Length classes for bucketing.
const (
	classShort = iota
	classMedium
	classLong
	numClasses
)

// Config holds the bucketing thresholds.
type Config struct {
	// ShortMaxLen is the rune length up to which a query counts as short.
	ShortMaxLen int
	// LongMinLen is the rune length from which a query counts as long.
	LongMinLen int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		ShortMaxLen: 48,
		LongMinLen:  160,
	}
}

type bucket struct {
	queries      atomic.Int64
	fanout       atomic.Int64
	latencyNanos atomic.Int64
}

// Tracker records per-bucket query counters. Buckets are keyed by query
// length class and filter presence; all mutation is atomic increments, so
// Record is safe on the hot path.
type Tracker struct {
	cfg Config

	// [length class][filtered]
	buckets [numClasses][2]bucket
}

// NewTracker creates a tracker. A LongMinLen at or below ShortMaxLen is
// replaced so the medium bucket never collapses.
func NewTracker(cfg Config) *Tracker {
	d := DefaultConfig()
	if cfg.ShortMaxLen <= 0 {
		cfg.ShortMaxLen = d.ShortMaxLen
	}
	if cfg.LongMinLen <= cfg.ShortMaxLen {
		cfg.LongMinLen = d.LongMinLen
		if cfg.LongMinLen <= cfg.ShortMaxLen {
			cfg.LongMinLen = 2 * cfg.ShortMaxLen
		}
	}
	return &Tracker{cfg: cfg}
}

// Record counts one executed plan.
func (t *Tracker) Record(plan model.QueryPlan, latency time.Duration) {
	b := &t.buckets[t.classOf(plan.QueryLen)][filteredIndex(!plan.Filter.Empty())]
	b.queries.Add(1)
	b.fanout.Add(int64(len(plan.TargetShards)))
	b.latencyNanos.Add(latency.Nanoseconds())
}

// Snapshot returns the current bucket counters.
func (t *Tracker) Snapshot() Snapshot {
	var snap Snapshot
	for class := 0; class < numClasses; class++ {
		for f := 0; f < 2; f++ {
			b := &t.buckets[class][f]
			queries := b.queries.Load()

			bs := BucketStats{
				LengthClass: LengthClass(class),
				Filtered:    f == 1,
				Queries:     queries,
			}
			if queries > 0 {
				bs.AvgFanout = float64(b.fanout.Load()) / float64(queries)
				bs.AvgLatency = time.Duration(b.latencyNanos.Load() / queries)
			}
			snap.Buckets = append(snap.Buckets, bs)
			snap.TotalQueries += queries
		}
	}
	return snap
}

func (t *Tracker) classOf(queryLen int) int {
	switch {
	case queryLen <= t.cfg.ShortMaxLen:
		return classShort
	case queryLen >= t.cfg.LongMinLen:
		return classLong
	default:
		return classMedium
	}
}

func filteredIndex(filtered bool) int {
	if filtered {
		return 1
	}
	return 0
}

// LengthClass identifies a query length bucket.
type LengthClass int

const (
	Short  LengthClass = classShort
	Medium LengthClass = classMedium
	Long   LengthClass = classLong
)

// String returns the class name.
func (c LengthClass) String() string {
	switch c {
	case Short:
		return "short"
	case Medium:
		return "medium"
	case Long:
		return "long"
	default:
		return "unknown"
	}
}

// BucketStats is a snapshot of one bucket.
type BucketStats struct {
	LengthClass LengthClass
	Filtered    bool
	Queries     int64
	AvgFanout   float64
	AvgLatency  time.Duration
}

// Snapshot is a point-in-time view of all buckets.
type Snapshot struct {
	Buckets      []BucketStats
	TotalQueries int64
}

// DominantBucket returns the bucket with the most queries, or false when no
// queries were recorded.
func (s Snapshot) DominantBucket() (BucketStats, bool) {
	var (
		best  BucketStats
		found bool
	)
	for _, b := range s.Buckets {
		if b.Queries > 0 && (!found || b.Queries > best.Queries) {
			best = b
			found = true
		}
	}
	return best, found
}
