package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// LevelSpec binds a level to its entry lifetime within the manager.
type LevelSpec struct {
	Level Level
	TTL   time.Duration
}

// ManagerConfig configures cross-level behavior.
type ManagerConfig struct {
	// AsyncWriteBack moves writes to levels other than the fastest off the
	// request path.
	AsyncWriteBack bool

	// MaxAsyncWrites limits concurrent background writes. Defaults to 16
	// if <= 0.
	MaxAsyncWrites int64

	// WriteTimeout bounds each background write. Defaults to 5s if <= 0.
	WriteTimeout time.Duration

	// FailureThreshold is the number of consecutive errors after which a
	// level is skipped. Defaults to 5 if <= 0.
	FailureThreshold int64

	// FailureCooldown is how long a skipped level stays skipped before it
	// is probed again. Defaults to 30s if <= 0.
	FailureCooldown time.Duration
}

// Manager probes the configured levels fastest first. A hit on a slower
// level is promoted to all faster levels. A level that keeps failing is
// taken out of rotation for a cooldown period so one dead backend cannot
// stall every request.
type Manager struct {
	levels []*managedLevel
	cfg    ManagerConfig
	logger *slog.Logger

	writeSem *semaphore.Weighted
	wg       sync.WaitGroup
	closed   atomic.Bool

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

type managedLevel struct {
	LevelSpec

	hits         atomic.Int64
	failures     atomic.Int64 // consecutive
	skippedUntil atomic.Int64 // unix nanos
}

// NewManager creates a manager over the given levels, ordered fastest
// first. A nil logger disables logging.
func NewManager(cfg ManagerConfig, logger *slog.Logger, specs ...LevelSpec) *Manager {
	if cfg.MaxAsyncWrites <= 0 {
		cfg.MaxAsyncWrites = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureCooldown <= 0 {
		cfg.FailureCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		writeSem: semaphore.NewWeighted(cfg.MaxAsyncWrites),
		now:      time.Now,
	}
	for _, spec := range specs {
		if spec.Level == nil {
			continue
		}
		m.levels = append(m.levels, &managedLevel{LevelSpec: spec})
	}
	return m
}

// Levels returns the number of active levels.
func (m *Manager) Levels() int { return len(m.levels) }

// Get probes the levels in order and returns the first hit along with the
// name of the level that answered. The hit is promoted to all faster
// levels.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, string, bool) {
	for i, lvl := range m.levels {
		if m.skipped(lvl) {
			continue
		}

		data, err := lvl.Level.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				m.recordFailure(lvl, "get", err)
			}
			continue
		}

		m.recordSuccess(lvl)
		lvl.hits.Add(1)
		m.hits.Add(1)
		m.promote(ctx, key, data, i)
		return data, lvl.Level.Name(), true
	}

	m.misses.Add(1)
	return nil, "", false
}

// Set writes the entry through all levels. The fastest level is always
// written synchronously; the rest follow the AsyncWriteBack setting.
func (m *Manager) Set(ctx context.Context, key string, data []byte) {
	for i, lvl := range m.levels {
		if m.skipped(lvl) {
			continue
		}
		if i == 0 || !m.cfg.AsyncWriteBack {
			m.write(ctx, lvl, key, data)
			continue
		}
		m.writeAsync(lvl, key, data)
	}
}

// Delete removes the entry from every level.
func (m *Manager) Delete(ctx context.Context, key string) {
	for _, lvl := range m.levels {
		if err := lvl.Level.Delete(ctx, key); err != nil {
			m.recordFailure(lvl, "delete", err)
		}
	}
}

// Stats returns aggregate and per-level counters.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
	}
	for _, lvl := range m.levels {
		stats.Levels = append(stats.Levels, LevelStats{
			Name:    lvl.Level.Name(),
			Hits:    lvl.hits.Load(),
			Skipped: m.skipped(lvl),
		})
	}
	return stats
}

// Close waits for pending background writes and closes all levels.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.wg.Wait()

	var firstErr error
	for _, lvl := range m.levels {
		if err := lvl.Level.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ManagerStats is a snapshot of manager counters.
type ManagerStats struct {
	Hits   int64
	Misses int64
	Levels []LevelStats
}

// LevelStats is a snapshot of one level's counters.
type LevelStats struct {
	Name    string
	Hits    int64
	Skipped bool
}

// promote copies a hit into all levels faster than the one that answered.
func (m *Manager) promote(ctx context.Context, key string, data []byte, hitIndex int) {
	for i := 0; i < hitIndex; i++ {
		lvl := m.levels[i]
		if m.skipped(lvl) {
			continue
		}
		m.write(ctx, lvl, key, data)
	}
}

func (m *Manager) write(ctx context.Context, lvl *managedLevel, key string, data []byte) {
	if err := lvl.Level.Set(ctx, key, data, lvl.TTL); err != nil {
		m.recordFailure(lvl, "set", err)
		return
	}
	m.recordSuccess(lvl)
}

func (m *Manager) writeAsync(lvl *managedLevel, key string, data []byte) {
	if m.closed.Load() {
		return
	}
	// Drop the write when the background queue is saturated. Cached data is
	// reproducible, losing a write only costs a future miss.
	if !m.writeSem.TryAcquire(1) {
		m.logger.Debug("cache write-back dropped, queue full", "level", lvl.Level.Name())
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.writeSem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
		defer cancel()
		m.write(ctx, lvl, key, data)
	}()
}

func (m *Manager) skipped(lvl *managedLevel) bool {
	return m.now().UnixNano() < lvl.skippedUntil.Load()
}

func (m *Manager) recordFailure(lvl *managedLevel, op string, err error) {
	failures := lvl.failures.Add(1)
	m.logger.Warn("cache level error",
		"level", lvl.Level.Name(),
		"op", op,
		"consecutive_failures", failures,
		"error", err,
	)

	if failures >= m.cfg.FailureThreshold {
		lvl.skippedUntil.Store(m.now().Add(m.cfg.FailureCooldown).UnixNano())
		lvl.failures.Store(0)
		m.logger.Warn("cache level degraded, skipping",
			"level", lvl.Level.Name(),
			"cooldown", m.cfg.FailureCooldown,
		)
	}
}

func (m *Manager) recordSuccess(lvl *managedLevel) {
	lvl.failures.Store(0)
}
