package engine

import (
	"sort"

	"github.com/hupe1980/ragserve/model"
)

// Merge combines per-shard result lists into one globally ranked list.
// Duplicate document IDs keep their highest-scoring occurrence. Ranking is
// by score descending with document ID ascending as tie-break, truncated to
// topK.
//
// Merge is a pure function of its inputs: any permutation of the input
// lists produces the identical output.
func Merge(lists [][]model.ScoredDocument, topK int) []model.ScoredDocument {
	if topK <= 0 {
		return nil
	}

	best := make(map[string]model.ScoredDocument)
	for _, list := range lists {
		for _, doc := range list {
			if prev, ok := best[doc.ID]; ok && prev.Score >= doc.Score {
				continue
			}
			best[doc.ID] = doc
		}
	}

	merged := make([]model.ScoredDocument, 0, len(best))
	for _, doc := range best {
		merged = append(merged, doc)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}
