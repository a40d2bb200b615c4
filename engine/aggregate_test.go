package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ragserve/model"
)

func scored(id string, score float32) model.ScoredDocument {
	return model.ScoredDocument{
		Document: model.Document{ID: id},
		Score:    score,
	}
}

func TestMergeSortsByScoreDescending(t *testing.T) {
	merged := Merge([][]model.ScoredDocument{
		{scored("a", 0.5), scored("b", 0.2)},
		{scored("c", 0.9), scored("d", 0.1)},
	}, 10)

	require.Len(t, merged, 4)
	assert.Equal(t, "c", merged[0].ID)
	assert.Equal(t, "a", merged[1].ID)
	assert.Equal(t, "b", merged[2].ID)
	assert.Equal(t, "d", merged[3].ID)
}

func TestMergeDedupesKeepingHighestScore(t *testing.T) {
	merged := Merge([][]model.ScoredDocument{
		{scored("a", 0.5)},
		{scored("a", 0.8), scored("b", 0.3)},
	}, 10)

	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, float32(0.8), merged[0].Score)
}

func TestMergeTieBreaksByID(t *testing.T) {
	merged := Merge([][]model.ScoredDocument{
		{scored("b", 0.5), scored("c", 0.5)},
		{scored("a", 0.5)},
	}, 10)

	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "b", merged[1].ID)
	assert.Equal(t, "c", merged[2].ID)
}

func TestMergeTruncatesToTopK(t *testing.T) {
	merged := Merge([][]model.ScoredDocument{
		{scored("a", 0.9), scored("b", 0.8), scored("c", 0.7)},
		{scored("d", 0.6)},
	}, 2)

	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "b", merged[1].ID)
}

func TestMergeEmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, 5))
	assert.Empty(t, Merge([][]model.ScoredDocument{{}, {}}, 5))
	assert.Empty(t, Merge([][]model.ScoredDocument{{scored("a", 1)}}, 0))
}

func TestMergePermutationInvariant(t *testing.T) {
	lists := [][]model.ScoredDocument{
		{scored("a", 0.9), scored("b", 0.7)},
		{scored("c", 0.8), scored("a", 0.4)},
		{scored("d", 0.7), scored("e", 0.1)},
	}

	want := Merge(lists, 4)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([][]model.ScoredDocument, len(lists))
		copy(shuffled, lists)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		assert.Equal(t, want, Merge(shuffled, 4))
	}
}
