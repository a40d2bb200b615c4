package shard

import "hash/fnv"

// SkewFactor bounds the accepted imbalance: a shard already holding more
// than SkewFactor times the average document count is not assigned new
// documents by hash.
const SkewFactor = 2

// Router assigns documents to shards. Assignment is hash-based so the same
// document ID always lands on the same shard, except when the hashed shard
// is overloaded, in which case the least loaded shard takes it.
type Router struct {
	dir *Directory
}

// NewRouter creates a router over the given directory.
func NewRouter(dir *Directory) *Router {
	return &Router{dir: dir}
}

// Route returns the shard that should receive the document.
func (r *Router) Route(docID string) string {
	snap := r.dir.snap.Load()
	n := len(snap.ids)
	if n == 1 {
		return snap.ids[0]
	}

	h := fnv.New32a()
	h.Write([]byte(docID))
	candidate := snap.ids[h.Sum32()%uint32(n)]

	// Average load counting the incoming document, so a fresh directory
	// does not divide by zero.
	avg := (snap.totalDocs + 1) / int64(n)
	if snap.docCount[candidate] <= SkewFactor*avg {
		return candidate
	}

	return r.leastLoaded(snap)
}

func (r *Router) leastLoaded(snap *snapshot) string {
	best := snap.ids[0]
	bestCount := snap.docCount[best]
	for _, id := range snap.ids[1:] {
		if c := snap.docCount[id]; c < bestCount {
			best = id
			bestCount = c
		}
	}
	return best
}
