package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLevel fails every operation until healed.
type flakyLevel struct {
	*MemoryLevel
	name    string
	failing bool
}

func (f *flakyLevel) Name() string { return f.name }

func (f *flakyLevel) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failing {
		return nil, errors.New("backend unreachable")
	}
	return f.MemoryLevel.Get(ctx, key)
}

func (f *flakyLevel) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if f.failing {
		return errors.New("backend unreachable")
	}
	return f.MemoryLevel.Set(ctx, key, data, ttl)
}

func newTestManager(specs ...LevelSpec) *Manager {
	return NewManager(ManagerConfig{}, nil, specs...)
}

func TestManagerWriteThroughAndGet(t *testing.T) {
	fast := NewMemoryLevel(8, time.Minute)
	slow := NewMemoryLevel(8, time.Minute)
	m := newTestManager(LevelSpec{Level: fast, TTL: time.Minute}, LevelSpec{Level: slow, TTL: time.Minute})
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"))

	// Both levels hold the entry.
	_, err := fast.Get(ctx, "k")
	require.NoError(t, err)
	_, err = slow.Get(ctx, "k")
	require.NoError(t, err)

	data, level, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, "fast", level)
}

func TestManagerPromotesSlowHits(t *testing.T) {
	fast := NewMemoryLevel(8, time.Minute)
	slow := &flakyLevel{MemoryLevel: NewMemoryLevel(8, time.Minute), name: "durable"}
	m := newTestManager(LevelSpec{Level: fast, TTL: time.Minute}, LevelSpec{Level: slow, TTL: time.Minute})
	ctx := context.Background()

	// Seed only the slow level, as if the process had restarted.
	require.NoError(t, slow.Set(ctx, "k", []byte("v"), time.Minute))

	data, level, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, "durable", level)

	// The hit was promoted: the fast level now answers directly.
	_, level, ok = m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "fast", level)
}

func TestManagerReadYourWrites(t *testing.T) {
	fast := NewMemoryLevel(8, time.Minute)
	m := NewManager(ManagerConfig{AsyncWriteBack: true}, nil,
		LevelSpec{Level: fast, TTL: time.Minute},
		LevelSpec{Level: NewMemoryLevel(8, time.Minute), TTL: time.Minute},
	)
	ctx := context.Background()

	// Even with async write-back, the fastest level is written on the
	// request path, so an immediate Get sees the value.
	m.Set(ctx, "k", []byte("v"))

	data, _, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, m.Close())
}

func TestManagerDegradesFailingLevel(t *testing.T) {
	fast := NewMemoryLevel(8, time.Minute)
	broken := &flakyLevel{MemoryLevel: NewMemoryLevel(8, time.Minute), name: "shared", failing: true}
	m := NewManager(ManagerConfig{FailureThreshold: 2}, nil,
		LevelSpec{Level: fast, TTL: time.Minute},
		LevelSpec{Level: broken, TTL: time.Minute},
	)
	ctx := context.Background()

	// Requests keep working while the shared level fails.
	m.Set(ctx, "a", []byte("1"))
	m.Set(ctx, "b", []byte("2"))

	data, _, ok := m.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), data)

	// After the threshold the level is out of rotation.
	var degraded bool
	for _, lvl := range m.Stats().Levels {
		if lvl.Name == "shared" && lvl.Skipped {
			degraded = true
		}
	}
	assert.True(t, degraded, "failing level should be skipped")
}

func TestManagerRecoversAfterCooldown(t *testing.T) {
	broken := &flakyLevel{MemoryLevel: NewMemoryLevel(8, time.Minute), name: "shared", failing: true}
	m := NewManager(ManagerConfig{FailureThreshold: 1, FailureCooldown: time.Second}, nil,
		LevelSpec{Level: broken, TTL: time.Minute},
	)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", []byte("v"))
	_, _, ok := m.Get(ctx, "k")
	assert.False(t, ok, "degraded level should not answer")

	broken.failing = false
	now = now.Add(2 * time.Second)

	m.Set(ctx, "k", []byte("v"))
	_, _, ok = m.Get(ctx, "k")
	assert.True(t, ok, "level should rejoin after cooldown")
}

func TestManagerDelete(t *testing.T) {
	fast := NewMemoryLevel(8, time.Minute)
	slow := NewMemoryLevel(8, time.Minute)
	m := newTestManager(LevelSpec{Level: fast, TTL: time.Minute}, LevelSpec{Level: slow, TTL: time.Minute})
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"))
	m.Delete(ctx, "k")

	_, _, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManagerStats(t *testing.T) {
	m := newTestManager(LevelSpec{Level: NewMemoryLevel(8, time.Minute), TTL: time.Minute})
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"))
	m.Get(ctx, "k")
	m.Get(ctx, "absent")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
