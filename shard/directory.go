// Package shard tracks the shard layout: per-shard document counts, index
// types, and a metadata term index used to prune shards during planning.
package shard

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/ragserve/model"
)

// Directory is the authoritative view of the shard layout. Reads go through
// an immutable snapshot swapped atomically, so planning never blocks on
// ingest.
type Directory struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]

	// Query counters live outside the snapshot; they are hot and purely
	// monotonic.
	queries map[string]*atomic.Int64
}

type snapshot struct {
	ids       []string
	ordinals  map[string]uint32
	indexType map[string]model.IndexType
	docCount  map[string]int64
	totalDocs int64

	// terms maps "key=value" to the set of shard ordinals holding at least
	// one document with that metadata entry.
	terms map[string]*roaring.Bitmap
}

// NewDirectory creates a directory over the given shard IDs. The ordinal
// order of shardIDs is the routing order and must be stable across
// restarts.
func NewDirectory(shardIDs []string, indexType model.IndexType) (*Directory, error) {
	if len(shardIDs) == 0 {
		return nil, fmt.Errorf("at least one shard is required")
	}

	snap := &snapshot{
		ids:       append([]string(nil), shardIDs...),
		ordinals:  make(map[string]uint32, len(shardIDs)),
		indexType: make(map[string]model.IndexType, len(shardIDs)),
		docCount:  make(map[string]int64, len(shardIDs)),
		terms:     make(map[string]*roaring.Bitmap),
	}
	queries := make(map[string]*atomic.Int64, len(shardIDs))

	for i, id := range shardIDs {
		if _, ok := snap.ordinals[id]; ok {
			return nil, fmt.Errorf("duplicate shard id %q", id)
		}
		snap.ordinals[id] = uint32(i)
		snap.indexType[id] = indexType
		queries[id] = &atomic.Int64{}
	}

	d := &Directory{queries: queries}
	d.snap.Store(snap)
	return d, nil
}

// IDs returns all shard IDs in ordinal order.
func (d *Directory) IDs() []string {
	return d.snap.Load().ids
}

// Len returns the number of shards.
func (d *Directory) Len() int {
	return len(d.snap.Load().ids)
}

// TotalDocs returns the document count across all shards.
func (d *Directory) TotalDocs() int64 {
	return d.snap.Load().totalDocs
}

// DocCount returns the document count of one shard.
func (d *Directory) DocCount(shardID string) int64 {
	return d.snap.Load().docCount[shardID]
}

// MaxDocCount returns the largest per-shard document count.
func (d *Directory) MaxDocCount() int64 {
	snap := d.snap.Load()
	var maxDocs int64
	for _, id := range snap.ids {
		if c := snap.docCount[id]; c > maxDocs {
			maxDocs = c
		}
	}
	return maxDocs
}

// IndexType returns the index type configured for one shard.
func (d *Directory) IndexType(shardID string) model.IndexType {
	return d.snap.Load().indexType[shardID]
}

// Shards returns a stats snapshot for every shard.
func (d *Directory) Shards() []model.ShardInfo {
	snap := d.snap.Load()
	infos := make([]model.ShardInfo, 0, len(snap.ids))
	for _, id := range snap.ids {
		infos = append(infos, model.ShardInfo{
			ID:            id,
			DocumentCount: snap.docCount[id],
			IndexType:     snap.indexType[id],
			QueryCount:    d.queries[id].Load(),
		})
	}
	return infos
}

// RecordQuery bumps the query counter of one shard.
func (d *Directory) RecordQuery(shardID string) {
	if c, ok := d.queries[shardID]; ok {
		c.Add(1)
	}
}

// Prune returns the shards that can possibly hold a document matching the
// filter, in ordinal order. An empty filter targets all shards. A filter
// term never seen at ingest prunes everything.
func (d *Directory) Prune(filter model.Filter) []string {
	snap := d.snap.Load()
	if filter.Empty() {
		return snap.ids
	}

	var acc *roaring.Bitmap
	for key, values := range filter {
		perKey := roaring.New()
		for _, v := range values {
			if bm, ok := snap.terms[termKey(key, v)]; ok {
				perKey.Or(bm)
			}
		}
		if acc == nil {
			acc = perKey
		} else {
			acc.And(perKey)
		}
		if acc.IsEmpty() {
			return nil
		}
	}

	ids := make([]string, 0, acc.GetCardinality())
	acc.Iterate(func(ordinal uint32) bool {
		ids = append(ids, snap.ids[ordinal])
		return true
	})
	return ids
}

// RecordIngest updates doc counts and the term index after documents were
// written to a shard. The new snapshot becomes visible atomically.
func (d *Directory) RecordIngest(shardID string, docs []model.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.snap.Load()
	ordinal, ok := old.ordinals[shardID]
	if !ok {
		return fmt.Errorf("unknown shard %q", shardID)
	}

	next := old.clone()
	next.docCount[shardID] += int64(len(docs))
	next.totalDocs += int64(len(docs))

	for _, doc := range docs {
		for key, value := range doc.Metadata {
			tk := termKey(key, value)
			bm, ok := next.terms[tk]
			if !ok {
				bm = roaring.New()
				next.terms[tk] = bm
			} else if bm.Contains(ordinal) {
				continue
			} else {
				// Copy-on-write: the old snapshot may still be read.
				bm = bm.Clone()
				next.terms[tk] = bm
			}
			bm.Add(ordinal)
		}
	}

	d.snap.Store(next)
	return nil
}

// SetIndexType reassigns the index type of one shard, typically after an
// optimize recommendation was applied to the backend. Readers holding the
// previous snapshot keep their view.
func (d *Directory) SetIndexType(shardID string, t model.IndexType) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.snap.Load()
	if _, ok := old.ordinals[shardID]; !ok {
		return fmt.Errorf("unknown shard %q", shardID)
	}

	next := old.clone()
	next.indexType[shardID] = t
	d.snap.Store(next)
	return nil
}

// RecordDelete decrements the doc count of one shard. The term index is not
// shrunk; a stale term only costs an unnecessary shard probe.
func (d *Directory) RecordDelete(shardID string, n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.snap.Load()
	if _, ok := old.ordinals[shardID]; !ok {
		return
	}

	next := old.clone()
	next.docCount[shardID] -= n
	if next.docCount[shardID] < 0 {
		next.docCount[shardID] = 0
	}
	next.totalDocs -= n
	if next.totalDocs < 0 {
		next.totalDocs = 0
	}
	d.snap.Store(next)
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		ids:       s.ids,
		ordinals:  s.ordinals,
		indexType: make(map[string]model.IndexType, len(s.indexType)),
		docCount:  make(map[string]int64, len(s.docCount)),
		totalDocs: s.totalDocs,
		terms:     make(map[string]*roaring.Bitmap, len(s.terms)),
	}
	for id, t := range s.indexType {
		next.indexType[id] = t
	}
	for id, c := range s.docCount {
		next.docCount[id] = c
	}
	// Bitmaps are shared until a writer needs to change one.
	for tk, bm := range s.terms {
		next.terms[tk] = bm
	}
	return next
}

func termKey(key, value string) string {
	return key + "=" + value
}
