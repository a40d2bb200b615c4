package shard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ragserve/model"
)

func TestRouterDeterministic(t *testing.T) {
	dir, err := NewDirectory([]string{"s1", "s2", "s3"}, model.IndexFlat)
	require.NoError(t, err)
	r := NewRouter(dir)

	first := r.Route("doc-42")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Route("doc-42"))
	}
}

func TestRouterSingleShard(t *testing.T) {
	dir, err := NewDirectory([]string{"only"}, model.IndexFlat)
	require.NoError(t, err)
	r := NewRouter(dir)

	assert.Equal(t, "only", r.Route("anything"))
}

func TestRouterBalance(t *testing.T) {
	const (
		numShards = 10
		numDocs   = 2000
	)

	ids := make([]string, numShards)
	for i := range ids {
		ids[i] = fmt.Sprintf("shard-%02d", i)
	}
	dir, err := NewDirectory(ids, model.IndexFlat)
	require.NoError(t, err)
	r := NewRouter(dir)

	for i := 0; i < numDocs; i++ {
		docID := fmt.Sprintf("doc-%05d", i)
		shardID := r.Route(docID)
		require.NoError(t, dir.RecordIngest(shardID, []model.Document{{ID: docID}}))
	}

	avg := float64(numDocs) / float64(numShards)
	for _, id := range ids {
		count := float64(dir.DocCount(id))
		assert.LessOrEqual(t, count, SkewFactor*avg,
			"shard %s holds %v docs, avg is %v", id, count, avg)
	}
	assert.Equal(t, int64(numDocs), dir.TotalDocs())
}

func TestRouterAvoidsOverloadedShard(t *testing.T) {
	dir, err := NewDirectory([]string{"s1", "s2", "s3", "s4", "s5"}, model.IndexFlat)
	require.NoError(t, err)
	r := NewRouter(dir)

	// Overload s1 far beyond twice the average.
	require.NoError(t, dir.RecordIngest("s1", docsWithCategory("a", 100)))

	// Whatever the hash says, no new document lands on the hot shard.
	for i := 0; i < 50; i++ {
		assert.NotEqual(t, "s1", r.Route(fmt.Sprintf("doc-%d", i)))
	}
}
