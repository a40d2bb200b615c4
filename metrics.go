package ragserve

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordQuery is called after each query or stream_query operation.
	// cacheHit reports whether the answer came from cache, duration is the
	// total time taken, err is nil if successful.
	RecordQuery(cacheHit bool, duration time.Duration, err error)

	// RecordRetrieve is called after each retrieval fan-out. shards is the
	// number of shards targeted, failed the number dropped.
	RecordRetrieve(shards, failed int, duration time.Duration, err error)

	// RecordGeneration is called after each generation call.
	RecordGeneration(duration time.Duration, err error)

	// RecordIngest is called after each add_documents_batch operation.
	// count is the number of documents attempted, failed the number rejected.
	RecordIngest(count, failed int, duration time.Duration)

	// RecordCacheProbe is called per cache lookup with the level that
	// answered, or hit=false if all levels missed.
	RecordCacheProbe(level string, hit bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(bool, time.Duration, error)        {}
func (NoopMetricsCollector) RecordRetrieve(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordGeneration(time.Duration, error)         {}
func (NoopMetricsCollector) RecordIngest(int, int, time.Duration)          {}
func (NoopMetricsCollector) RecordCacheProbe(string, bool)                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount          atomic.Int64
	QueryErrors         atomic.Int64
	QueryCacheHits      atomic.Int64
	QueryTotalNanos     atomic.Int64
	RetrieveCount       atomic.Int64
	RetrieveErrors      atomic.Int64
	RetrieveShards      atomic.Int64
	RetrieveFailed      atomic.Int64
	RetrieveTotalNanos  atomic.Int64
	GenerationCount     atomic.Int64
	GenerationErrors    atomic.Int64
	GenerationTotNanos  atomic.Int64
	IngestCount         atomic.Int64
	IngestItems         atomic.Int64
	IngestFailed        atomic.Int64
	CacheProbes         atomic.Int64
	CacheHits           atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(cacheHit bool, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if cacheHit {
		b.QueryCacheHits.Add(1)
	}
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordRetrieve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetrieve(shards, failed int, duration time.Duration, err error) {
	b.RetrieveCount.Add(1)
	b.RetrieveShards.Add(int64(shards))
	b.RetrieveFailed.Add(int64(failed))
	b.RetrieveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RetrieveErrors.Add(1)
	}
}

// RecordGeneration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGeneration(duration time.Duration, err error) {
	b.GenerationCount.Add(1)
	b.GenerationTotNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GenerationErrors.Add(1)
	}
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(count, failed int, duration time.Duration) {
	b.IngestCount.Add(1)
	b.IngestItems.Add(int64(count))
	b.IngestFailed.Add(int64(failed))
}

// RecordCacheProbe implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheProbe(level string, hit bool) {
	b.CacheProbes.Add(1)
	if hit {
		b.CacheHits.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryCacheHits:   b.QueryCacheHits.Load(),
		QueryAvgNanos:    avgNanos(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		RetrieveCount:    b.RetrieveCount.Load(),
		RetrieveErrors:   b.RetrieveErrors.Load(),
		RetrieveShards:   b.RetrieveShards.Load(),
		RetrieveFailed:   b.RetrieveFailed.Load(),
		RetrieveAvgNanos: avgNanos(b.RetrieveTotalNanos.Load(), b.RetrieveCount.Load()),
		GenerationCount:  b.GenerationCount.Load(),
		GenerationErrors: b.GenerationErrors.Load(),
		IngestCount:      b.IngestCount.Load(),
		IngestItems:      b.IngestItems.Load(),
		IngestFailed:     b.IngestFailed.Load(),
		CacheProbes:      b.CacheProbes.Load(),
		CacheHits:        b.CacheHits.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount       int64
	QueryErrors      int64
	QueryCacheHits   int64
	QueryAvgNanos    int64
	RetrieveCount    int64
	RetrieveErrors   int64
	RetrieveShards   int64
	RetrieveFailed   int64
	RetrieveAvgNanos int64
	GenerationCount  int64
	GenerationErrors int64
	IngestCount      int64
	IngestItems      int64
	IngestFailed     int64
	CacheProbes      int64
	CacheHits        int64
}
