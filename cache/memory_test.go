package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLevelRoundTrip(t *testing.T) {
	c := NewMemoryLevel(8, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryLevelMiss(t *testing.T) {
	c := NewMemoryLevel(8, time.Minute)

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryLevelTTLExpiry(t *testing.T) {
	c := NewMemoryLevel(8, time.Minute)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Second))

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, c.Len(), "expired entry should be dropped on access")
}

func TestMemoryLevelEvictsLRU(t *testing.T) {
	c := NewMemoryLevel(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	// Touch "a" so "b" is the eviction candidate.
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryLevelOverwrite(t *testing.T) {
	c := NewMemoryLevel(8, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("old"), 0))
	require.NoError(t, c.Set(ctx, "k", []byte("new"), 0))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryLevelDelete(t *testing.T) {
	c := NewMemoryLevel(8, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"), "double delete is fine")

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}
