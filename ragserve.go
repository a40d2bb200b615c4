// Package ragserve is a retrieval-and-cache serving engine for RAG
// workloads. It shards a document corpus across vector index backends, fans
// queries out in parallel, caches results across fast/shared/durable
// levels, and grounds generated answers in the retrieved documents.
//
// The service owns planning, routing, caching and aggregation. Vector
// search, embedding and generation are consumed through interfaces; bring
// your own backends.
package ragserve

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hupe1980/ragserve/cache"
	"github.com/hupe1980/ragserve/engine"
	"github.com/hupe1980/ragserve/model"
	"github.com/hupe1980/ragserve/planner"
	"github.com/hupe1980/ragserve/shard"
	"github.com/hupe1980/ragserve/stream"
	"github.com/hupe1980/ragserve/usage"
)

// Dependencies are the external collaborators the service is built on.
type Dependencies struct {
	// Shards maps shard IDs to their vector index backends. At least one
	// shard is required.
	Shards map[string]VectorIndex

	// ShardOrder fixes the ordinal order of shards for routing. When
	// empty, shard IDs are ordered lexically. The order must be stable
	// across restarts or hash routing moves documents.
	ShardOrder []string

	// Embedder turns query and document text into vectors. Required.
	Embedder Embedder

	// Generator produces answers. Required.
	Generator Generator

	// CacheLevels configures the cache hierarchy, fastest first. When
	// empty, a single in-process level is used. A LevelSpec with zero TTL
	// gets the config default for its position (fast, shared, durable).
	CacheLevels []cache.LevelSpec
}

// Service is the serving engine. Construct it once with New and share it;
// all methods are safe for concurrent use.
type Service struct {
	cfg  Config
	opts options

	dir       *shard.Directory
	router    *shard.Router
	planner   *planner.Planner
	coord     *engine.Coordinator
	cacheMgr  *cache.Manager
	assembler *stream.Assembler
	tracker   *usage.Tracker
	optimizer *usage.Optimizer

	shards    map[string]VectorIndex
	embedder  Embedder
	generator Generator

	genLimiter *rate.Limiter
	flight     singleflight.Group

	// ingestGen is mixed into cache keys so entries written before an
	// ingest can no longer be read afterwards (read-your-writes; TTL reaps
	// the stale generation).
	ingestGen atomic.Int64

	totalQueries   atomic.Int64
	batchProcessed atomic.Int64
	latencyNanos   atomic.Int64
	latencyCount   atomic.Int64

	// Hit/miss are counted once per user operation, not per level probe; a
	// query that probes both its own key and the retrieval key still counts
	// as one probe in the stats.
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	closed atomic.Bool
}

// New creates a service over the given dependencies.
func New(cfg Config, deps Dependencies, optFns ...Option) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(deps.Shards) == 0 {
		return nil, fmt.Errorf("at least one shard is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}

	o := applyOptions(optFns)

	shardIDs := deps.ShardOrder
	if len(shardIDs) == 0 {
		for id := range deps.Shards {
			shardIDs = append(shardIDs, id)
		}
		sort.Strings(shardIDs)
	}
	for _, id := range shardIDs {
		if _, ok := deps.Shards[id]; !ok {
			return nil, fmt.Errorf("shard order names unknown shard %q", id)
		}
	}
	if len(shardIDs) != len(deps.Shards) {
		return nil, fmt.Errorf("shard order must cover all %d shards", len(deps.Shards))
	}

	dir, err := shard.NewDirectory(shardIDs, model.IndexFlat)
	if err != nil {
		return nil, err
	}

	searchers := make(map[string]engine.ShardSearcher, len(deps.Shards))
	for id, idx := range deps.Shards {
		searchers[id] = idx
	}
	coord, err := engine.NewCoordinator(searchers, engine.Config{
		ShardTimeout: cfg.ShardTimeout,
	}, o.logger.Logger)
	if err != nil {
		return nil, err
	}

	specs := deps.CacheLevels
	if len(specs) == 0 {
		specs = []cache.LevelSpec{{
			Level: cache.NewMemoryLevel(cfg.FastCacheSize, cfg.FastCacheTTL),
		}}
	}
	defaultTTLs := []time.Duration{cfg.FastCacheTTL, cfg.SharedCacheTTL, cfg.DurableCacheTTL}
	for i := range specs {
		if specs[i].TTL <= 0 && i < len(defaultTTLs) {
			specs[i].TTL = defaultTTLs[i]
		}
	}
	cacheMgr := cache.NewManager(cache.ManagerConfig{
		AsyncWriteBack: cfg.AsyncCacheWriteBack,
	}, o.logger.Logger, specs...)

	var genLimiter *rate.Limiter
	if cfg.GenerationRate > 0 {
		genLimiter = rate.NewLimiter(rate.Limit(cfg.GenerationRate), cfg.GenerationBurst)
	}

	return &Service{
		cfg:       cfg,
		opts:      o,
		dir:       dir,
		router:    shard.NewRouter(dir),
		planner:   planner.New(cfg.Planner, dir),
		coord:     coord,
		cacheMgr:  cacheMgr,
		assembler: stream.New(o.logger.Logger),
		// The tracker buckets by the same short-query cutoff the planner
		// plans with, so optimize recommendations cannot contradict planning.
		tracker: usage.NewTracker(usage.Config{
			ShortMaxLen: cfg.Planner.ShortQueryMaxLen,
		}),
		optimizer: usage.NewOptimizer(usage.OptimizerConfig{
			MinQueries: cfg.OptimizeMinQueries,
			Thresholds: cfg.Planner,
		}),
		shards:     deps.Shards,
		embedder:   deps.Embedder,
		generator:  deps.Generator,
		genLimiter: genLimiter,
	}, nil
}

// Retrieve runs the retrieval path only: plan, fan out, merge. Results are
// cached; a repeated identical call within TTL is served from cache.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, filter model.Filter) (model.RetrieveResult, error) {
	if s.closed.Load() {
		return model.RetrieveResult{}, ErrClosed
	}
	query, topK, err := s.normalizeRequest(query, topK)
	if err != nil {
		return model.RetrieveResult{}, err
	}

	result, fromCache, err := s.retrieve(ctx, query, topK, filter)
	s.countProbe(fromCache)
	return result, err
}

// retrieve serves the retrieval path from cache or execution. The service
// hit counters are left to the caller; each user operation counts exactly
// one probe regardless of how many keys it touched.
func (s *Service) retrieve(ctx context.Context, query string, topK int, filter model.Filter) (model.RetrieveResult, bool, error) {
	start := time.Now()
	key := s.cacheKey("retrieve", query, topK, filter)

	if data, level, ok := s.cacheMgr.Get(ctx, key); ok {
		var cached model.RetrieveResult
		if err := s.opts.codec.Unmarshal(data, &cached); err == nil {
			s.opts.metricsCollector.RecordCacheProbe(level, true)
			s.recordQueryLatency(time.Since(start))
			return cached, true, nil
		}
		s.opts.logger.Warn("dropping undecodable cache entry", "key", key)
		s.cacheMgr.Delete(ctx, key)
	}
	s.opts.metricsCollector.RecordCacheProbe("", false)

	result, err := s.retrieveShared(ctx, key, query, topK, filter)
	s.recordQueryLatency(time.Since(start))
	return result, false, err
}

// retrieveShared collapses concurrent identical cache misses into one
// execution.
func (s *Service) retrieveShared(ctx context.Context, key, query string, topK int, filter model.Filter) (model.RetrieveResult, error) {
	v, err, _ := s.flight.Do(key, func() (any, error) {
		result, err := s.retrieveUncached(ctx, query, topK, filter)
		if err != nil {
			return nil, err
		}

		// Partial results are not cached; the next call should see the
		// recovered shards.
		if !result.Partial {
			if data, err := s.opts.codec.Marshal(result); err == nil {
				s.cacheMgr.Set(ctx, key, data)
			}
		}
		return result, nil
	})
	if err != nil {
		return model.RetrieveResult{}, err
	}
	return v.(model.RetrieveResult), nil
}

func (s *Service) retrieveUncached(ctx context.Context, query string, topK int, filter model.Filter) (model.RetrieveResult, error) {
	start := time.Now()

	plan, err := s.planner.Plan(query, topK, filter)
	if err != nil {
		return model.RetrieveResult{}, translateError(err)
	}
	log := s.opts.logger.WithQueryID(plan.QueryID)

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return model.RetrieveResult{}, &ErrEmbedding{cause: err}
	}
	if len(vectors) != 1 {
		return model.RetrieveResult{}, &ErrEmbedding{cause: fmt.Errorf("embedder returned %d vectors for one text", len(vectors))}
	}

	execResult, err := s.coord.Execute(ctx, plan, vectors[0])
	elapsed := time.Since(start)
	s.opts.metricsCollector.RecordRetrieve(len(plan.TargetShards), len(execResult.FailedShards), elapsed, err)
	if err != nil {
		log.LogRetrieve(ctx, plan.QueryID, len(plan.TargetShards), len(plan.TargetShards), 0, elapsed, err)
		return model.RetrieveResult{}, translateError(err)
	}

	for _, shardID := range plan.TargetShards {
		s.dir.RecordQuery(shardID)
	}
	s.tracker.Record(plan, elapsed)
	log.LogRetrieve(ctx, plan.QueryID, len(plan.TargetShards), len(execResult.FailedShards), len(execResult.Documents), elapsed, nil)

	return model.RetrieveResult{
		Documents:    execResult.Documents,
		LatencyMS:    durationMS(elapsed),
		Partial:      execResult.Partial(),
		FailedShards: execResult.FailedShards,
	}, nil
}

// Query runs retrieval plus generation. When generation fails, the
// retrieval result is still returned with GenerationFailed set instead of
// failing the whole query.
func (s *Service) Query(ctx context.Context, query string, topK int, filter model.Filter) (model.QueryResult, error) {
	if s.closed.Load() {
		return model.QueryResult{}, ErrClosed
	}
	query, topK, err := s.normalizeRequest(query, topK)
	if err != nil {
		return model.QueryResult{}, err
	}

	start := time.Now()
	s.totalQueries.Add(1)
	key := s.cacheKey("query", query, topK, filter)

	if data, level, ok := s.cacheMgr.Get(ctx, key); ok {
		var cached model.QueryResult
		if err := s.opts.codec.Unmarshal(data, &cached); err == nil {
			s.countProbe(true)
			s.opts.metricsCollector.RecordCacheProbe(level, true)
			s.opts.metricsCollector.RecordQuery(true, time.Since(start), nil)
			s.recordQueryLatency(time.Since(start))
			return cached, nil
		}
		s.opts.logger.Warn("dropping undecodable cache entry", "key", key)
		s.cacheMgr.Delete(ctx, key)
	}
	s.countProbe(false)
	s.opts.metricsCollector.RecordCacheProbe("", false)

	retrieved, _, err := s.retrieve(ctx, query, topK, filter)
	if err != nil {
		s.opts.metricsCollector.RecordQuery(false, time.Since(start), err)
		return model.QueryResult{}, err
	}

	answer, genLatency, genErr := s.generate(ctx, query, retrieved.Documents)

	result := model.QueryResult{
		Answer:              answer,
		References:          retrieved.Documents,
		GenerationFailed:    genErr != nil,
		RetrievalLatencyMS:  retrieved.LatencyMS,
		GenerationLatencyMS: durationMS(genLatency),
		TotalLatencyMS:      durationMS(time.Since(start)),
		Partial:             retrieved.Partial,
	}

	// Only complete results are worth caching.
	if genErr == nil && !result.Partial {
		if data, err := s.opts.codec.Marshal(result); err == nil {
			s.cacheMgr.Set(ctx, key, data)
		}
	}

	s.opts.metricsCollector.RecordQuery(false, time.Since(start), nil)
	s.recordQueryLatency(time.Since(start))
	return result, nil
}

// StreamQuery runs retrieval and streams the generated answer as ordered
// chunks. The stream ends with exactly one final chunk carrying the
// references. When generation cannot be started, the stream degrades to
// that single final chunk.
func (s *Service) StreamQuery(ctx context.Context, query string, topK int, filter model.Filter) (<-chan model.StreamChunk, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	query, topK, err := s.normalizeRequest(query, topK)
	if err != nil {
		return nil, err
	}

	s.totalQueries.Add(1)

	retrieved, err := s.Retrieve(ctx, query, topK, filter)
	if err != nil {
		return nil, err
	}

	if err := s.waitGeneration(ctx); err != nil {
		return nil, err
	}

	ts, err := s.generator.GenerateStream(ctx, buildPrompt(query, retrieved.Documents))
	if err != nil {
		s.opts.logger.Warn("generation stream failed, returning references only", "error", err)
		out := make(chan model.StreamChunk, 1)
		out <- model.StreamChunk{Final: true, References: retrieved.Documents}
		close(out)
		return out, nil
	}

	return s.assembler.Stream(ctx, ts, retrieved.Documents), nil
}

// QueryRequest is one item of a QueryMany batch.
type QueryRequest struct {
	Query  string
	TopK   int
	Filter model.Filter
}

// QueryManyResult pairs one batch item with its outcome. Exactly one of
// Result and Err is set.
type QueryManyResult struct {
	Result *model.QueryResult
	Err    error
}

// QueryMany executes the queries concurrently, bounded by
// MaxConcurrentQueries. Items fail independently; one bad query never
// affects its siblings.
func (s *Service) QueryMany(ctx context.Context, requests []QueryRequest) []QueryManyResult {
	results := make([]QueryManyResult, len(requests))
	if len(requests) == 0 {
		return results
	}

	g := &errgroup.Group{}
	g.SetLimit(int(s.cfg.MaxConcurrentQueries))

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			res, err := s.Query(ctx, req.Query, req.TopK, req.Filter)
			if err != nil {
				results[i] = QueryManyResult{Err: &ErrBatchItem{Index: i, cause: err}}
				return nil
			}
			results[i] = QueryManyResult{Result: &res}
			return nil
		})
	}

	_ = g.Wait()
	s.batchProcessed.Add(int64(len(requests)))
	return results
}

// AddDocumentsBatch routes, embeds and indexes the documents. Returns the
// document IDs in input order; documents without an ID get a generated one.
// Shards are written in parallel; on error, documents already written to
// other shards stay written.
func (s *Service) AddDocumentsBatch(ctx context.Context, docs []model.Document) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(docs) == 0 {
		return nil, nil
	}

	start := time.Now()

	ids := make([]string, len(docs))
	byShard := make(map[string][]model.Document)
	for i := range docs {
		doc := docs[i]
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if strings.TrimSpace(doc.Content) == "" {
			s.opts.metricsCollector.RecordIngest(len(docs), len(docs), time.Since(start))
			return nil, fmt.Errorf("document %q has empty content", doc.ID)
		}
		doc.ShardID = s.router.Route(doc.ID)
		ids[i] = doc.ID
		byShard[doc.ShardID] = append(byShard[doc.ShardID], doc)
	}

	g, gctx := errgroup.WithContext(ctx)
	for shardID, shardDocs := range byShard {
		shardID, shardDocs := shardID, shardDocs
		g.Go(func() error {
			texts := make([]string, len(shardDocs))
			for i, doc := range shardDocs {
				texts[i] = doc.Content
			}

			vectors, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed for shard %s: %w", shardID, err)
			}
			if len(vectors) != len(shardDocs) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(shardDocs))
			}

			if err := s.shardBackend(shardID).Upsert(gctx, shardDocs, vectors); err != nil {
				return fmt.Errorf("upsert to shard %s: %w", shardID, err)
			}
			return s.dir.RecordIngest(shardID, shardDocs)
		})
	}

	err := g.Wait()
	elapsed := time.Since(start)

	// New documents must be visible to the next identical query.
	s.ingestGen.Add(1)
	s.batchProcessed.Add(int64(len(docs)))
	s.opts.metricsCollector.RecordIngest(len(docs), 0, elapsed)
	s.opts.logger.LogIngest(ctx, len(docs), len(byShard), elapsed, err)

	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteDocuments removes documents from every shard and invalidates
// affected cache entries via the ingest generation. Unknown IDs are
// ignored by the backends.
func (s *Service) DeleteDocuments(ctx context.Context, ids []string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}

	// Documents normally live on their hash-routed shard, but overflow
	// routing may have placed them elsewhere, so every shard is asked.
	g, gctx := errgroup.WithContext(ctx)
	for _, shardID := range s.dir.IDs() {
		shardID := shardID
		g.Go(func() error {
			if err := s.shardBackend(shardID).Delete(gctx, ids); err != nil {
				return fmt.Errorf("delete from shard %s: %w", shardID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, id := range ids {
		s.dir.RecordDelete(s.router.Route(id), 1)
	}
	s.ingestGen.Add(1)
	return nil
}

// Stats returns a point-in-time snapshot of service counters.
func (s *Service) Stats() model.ServiceStats {
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()

	stats := model.ServiceStats{
		TotalQueries:   s.totalQueries.Load(),
		CacheHits:      hits,
		CacheMisses:    misses,
		BatchProcessed: s.batchProcessed.Load(),
		Shards:         s.dir.Shards(),
	}

	if probes := hits + misses; probes > 0 {
		stats.CacheHitRate = float64(hits) / float64(probes)
	}
	if count := s.latencyCount.Load(); count > 0 {
		stats.AverageLatencyMS = durationMS(time.Duration(s.latencyNanos.Load() / count))
	}
	return stats
}

// OptimizeIndices compares recorded query patterns against per-shard index
// types and returns recommended changes. Meant to be called periodically.
func (s *Service) OptimizeIndices(ctx context.Context) []usage.Recommendation {
	recs := s.optimizer.Optimize(s.tracker.Snapshot(), s.dir.Shards())
	s.opts.logger.LogOptimize(ctx, len(recs))
	return recs
}

// Close shuts the service down. In-flight background cache writes are
// drained.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.coord.Close()
	return s.cacheMgr.Close()
}

func (s *Service) normalizeRequest(query string, topK int) (string, int, error) {
	if strings.TrimSpace(query) == "" {
		return "", 0, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	return query, topK, nil
}

func (s *Service) cacheKey(op, query string, topK int, filter model.Filter) string {
	return cache.Key(op, query, topK, filter,
		s.opts.codec.Name(),
		strconv.FormatInt(s.ingestGen.Load(), 10),
	)
}

func (s *Service) generate(ctx context.Context, query string, docs []model.ScoredDocument) (string, time.Duration, error) {
	if err := s.waitGeneration(ctx); err != nil {
		return "", 0, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	start := time.Now()
	answer, err := s.generator.Generate(genCtx, buildPrompt(query, docs))
	elapsed := time.Since(start)

	s.opts.metricsCollector.RecordGeneration(elapsed, err)
	s.opts.logger.LogGeneration(ctx, "", elapsed, err)
	return answer, elapsed, err
}

func (s *Service) waitGeneration(ctx context.Context) error {
	if s.genLimiter == nil {
		return nil
	}
	return s.genLimiter.Wait(ctx)
}

func (s *Service) shardBackend(shardID string) VectorIndex {
	// Directory, coordinator and this map are built from the same input,
	// so the shard always exists here.
	return s.shards[shardID]
}

func (s *Service) countProbe(hit bool) {
	if hit {
		s.cacheHits.Add(1)
	} else {
		s.cacheMisses.Add(1)
	}
}

func (s *Service) recordQueryLatency(d time.Duration) {
	s.latencyNanos.Add(d.Nanoseconds())
	s.latencyCount.Add(1)
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

func buildPrompt(query string, docs []model.ScoredDocument) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below.\n\nContext:\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, doc.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
