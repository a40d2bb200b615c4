package model

import (
	"fmt"
	"strings"
)

// IndexType identifies the vector index strategy a shard is configured with
// or a query plan has selected.
type IndexType uint8

const (
	// IndexFlat is an exact brute-force scan. Highest precision, cheap for
	// small candidate sets.
	IndexFlat IndexType = iota
	// IndexHNSW is a graph-based approximate index. Good default for mixed
	// workloads.
	IndexHNSW
	// IndexIVFPQ is a quantized inverted-file index. Bounds latency on large
	// corpora at some recall cost.
	IndexIVFPQ
)

// String returns the canonical name of the index type.
func (t IndexType) String() string {
	switch t {
	case IndexFlat:
		return "flat"
	case IndexHNSW:
		return "hnsw"
	case IndexIVFPQ:
		return "ivf-pq"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseIndexType resolves a canonical name back to an IndexType.
func ParseIndexType(s string) (IndexType, bool) {
	switch strings.ToLower(s) {
	case "flat":
		return IndexFlat, true
	case "hnsw":
		return IndexHNSW, true
	case "ivf-pq", "ivfpq":
		return IndexIVFPQ, true
	default:
		return IndexFlat, false
	}
}

// Document is the unit of retrieval. Embeddings live in the vector index
// backend and are referenced by ID, never duplicated here.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// ShardID is assigned at ingest and immutable afterwards.
	ShardID string `json:"shard_id,omitempty"`
}

// ScoredDocument pairs a document with its similarity score for one query.
// Higher scores rank first.
type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}

// Filter restricts retrieval to documents whose metadata matches. For each
// key a document matches if its value is any of the listed values; separate
// keys must all match.
type Filter map[string][]string

// Empty reports whether the filter imposes no constraint.
func (f Filter) Empty() bool { return len(f) == 0 }

// QueryPlan is the resolved set of decisions for executing one query.
// Plans are built fresh per invocation and read-only afterwards.
type QueryPlan struct {
	QueryID      string    `json:"query_id"`
	IndexType    IndexType `json:"index_type"`
	TargetShards []string  `json:"target_shards"`
	TopK         int       `json:"top_k"`
	Filter       Filter    `json:"filter,omitempty"`
	// QueryLen is the rune length of the normalized query text, recorded
	// for usage bucketing.
	QueryLen int `json:"query_len"`
}

// ShardInfo describes one shard as tracked by the shard directory.
type ShardInfo struct {
	ID            string    `json:"id"`
	DocumentCount int64     `json:"document_count"`
	IndexType     IndexType `json:"index_type"`
	QueryCount    int64     `json:"query_count"`
}

// RetrieveResult is the outcome of the retrieval path for one query.
type RetrieveResult struct {
	Documents []ScoredDocument `json:"documents"`
	LatencyMS float64          `json:"latency_ms"`
	// Partial is true when at least one shard was dropped due to an error
	// or deadline while others succeeded.
	Partial      bool     `json:"partial,omitempty"`
	FailedShards []string `json:"failed_shards,omitempty"`
}

// QueryResult is the outcome of a full retrieval-augmented query.
type QueryResult struct {
	Answer     string           `json:"answer"`
	References []ScoredDocument `json:"references"`
	// GenerationFailed marks a retrieval-only result: the references are
	// valid but the generation call did not succeed.
	GenerationFailed    bool    `json:"generation_failed,omitempty"`
	RetrievalLatencyMS  float64 `json:"retrieval_latency_ms"`
	GenerationLatencyMS float64 `json:"generation_latency_ms"`
	TotalLatencyMS      float64 `json:"total_latency_ms"`
	Partial             bool    `json:"partial,omitempty"`
}

// StreamChunk is one fragment of a streamed answer. Fragments arrive in
// generation order. Exactly one chunk per stream has Final set; it carries
// the complete reference list and no fragment text.
type StreamChunk struct {
	Fragment   string           `json:"fragment"`
	Final      bool             `json:"final"`
	References []ScoredDocument `json:"references,omitempty"`
}

// ServiceStats is a point-in-time snapshot of service counters.
type ServiceStats struct {
	TotalQueries     int64       `json:"total_queries"`
	CacheHits        int64       `json:"cache_hits"`
	CacheMisses      int64       `json:"cache_misses"`
	CacheHitRate     float64     `json:"cache_hit_rate"`
	AverageLatencyMS float64     `json:"average_latency_ms"`
	BatchProcessed   int64       `json:"batch_processed"`
	Shards           []ShardInfo `json:"shards"`
}
