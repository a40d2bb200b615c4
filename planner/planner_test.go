package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ragserve/model"
)

// fakeDirectory is a canned shard layout.
type fakeDirectory struct {
	shards  []string
	maxDocs int64
	pruned  map[string][]string // filter key "k=v" -> shards
}

func (f *fakeDirectory) Prune(filter model.Filter) []string {
	if filter.Empty() {
		return f.shards
	}
	for key, values := range filter {
		if shards, ok := f.pruned[key+"="+values[0]]; ok {
			return shards
		}
	}
	return nil
}

func (f *fakeDirectory) MaxDocCount() int64 { return f.maxDocs }

func newTestPlanner(maxDocs int64) (*Planner, *fakeDirectory) {
	dir := &fakeDirectory{
		shards:  []string{"s1", "s2", "s3"},
		maxDocs: maxDocs,
		pruned: map[string][]string{
			"category=a": {"s2"},
		},
	}
	return New(DefaultConfig(), dir), dir
}

func TestPlanSmallCorpusUsesFlat(t *testing.T) {
	p, _ := newTestPlanner(500)

	plan, err := p.Plan(strings.Repeat("long query text ", 20), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IndexFlat, plan.IndexType)
}

func TestPlanShortUnfilteredUsesFlat(t *testing.T) {
	p, _ := newTestPlanner(100_000)

	plan, err := p.Plan("quick lookup", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IndexFlat, plan.IndexType)
}

func TestPlanLongQueryUsesHNSW(t *testing.T) {
	p, _ := newTestPlanner(100_000)

	plan, err := p.Plan(strings.Repeat("descriptive query terms ", 10), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IndexHNSW, plan.IndexType)
}

func TestPlanFilteredShortQueryIsApproximate(t *testing.T) {
	p, _ := newTestPlanner(100_000)

	plan, err := p.Plan("quick lookup", 5, model.Filter{"category": {"a"}})
	require.NoError(t, err)
	assert.Equal(t, model.IndexHNSW, plan.IndexType)
}

func TestPlanHugeShardsUseIVFPQ(t *testing.T) {
	p, _ := newTestPlanner(1_000_000)

	plan, err := p.Plan(strings.Repeat("descriptive query terms ", 10), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, model.IndexIVFPQ, plan.IndexType)
}

func TestPlanTargetsAllShardsWithoutFilter(t *testing.T) {
	p, _ := newTestPlanner(1000)

	plan, err := p.Plan("q", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, plan.TargetShards)
}

func TestPlanFilterNarrowsShards(t *testing.T) {
	p, _ := newTestPlanner(1000)

	plan, err := p.Plan("q", 5, model.Filter{"category": {"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, plan.TargetShards)
}

func TestPlanFailsFastOnEmptyShardSet(t *testing.T) {
	p, _ := newTestPlanner(1000)

	_, err := p.Plan("q", 5, model.Filter{"category": {"unseen"}})
	assert.ErrorIs(t, err, ErrNoTargetShards)
}

func TestPlanRejectsInvalidTopK(t *testing.T) {
	p, _ := newTestPlanner(1000)

	_, err := p.Plan("q", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = p.Plan("q", -3, nil)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestPlanFreshQueryIDs(t *testing.T) {
	p, _ := newTestPlanner(1000)

	a, err := p.Plan("same query", 5, nil)
	require.NoError(t, err)
	b, err := p.Plan("same query", 5, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, a.QueryID)
	assert.NotEqual(t, a.QueryID, b.QueryID, "identical inputs must still get fresh IDs")
}

func TestPlanRecordsNormalizedQueryLen(t *testing.T) {
	p, _ := newTestPlanner(1000)

	plan, err := p.Plan("  some   query  ", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, len("some query"), plan.QueryLen)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ShortQueryMaxLen: 10, FlatScanMaxDocs: 100, LargeShardMinDocs: 50}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
