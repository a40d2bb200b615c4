package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/ragserve/blobstore"
)

// Durable entry layout:
//
//	[4]byte magic "RGD1"
//	[1]byte flags (bit 0: lz4 compressed)
//	[8]byte expiry, unix seconds big endian (0 = no expiry)
//	[8]byte uncompressed length big endian
//	payload
const (
	durableHeaderSize = 21
	durableFlagLZ4    = 1 << 0
)

var durableMagic = [4]byte{'R', 'G', 'D', '1'}

// DurableLevelConfig configures the object-storage-backed durable level.
type DurableLevelConfig struct {
	// DefaultTTL applies when Set is called with ttl <= 0. Zero means
	// entries never expire.
	DefaultTTL time.Duration

	// CompressionThreshold is the payload size in bytes above which entries
	// are lz4-compressed. 0 uses the default of 512 bytes, negative
	// disables compression.
	CompressionThreshold int
}

// DurableLevel is the slowest cache tier. Entries survive process restarts
// and are shared through object storage. Expiry is checked on read since
// object stores have no native TTL.
type DurableLevel struct {
	store     blobstore.Store
	ttl       time.Duration
	threshold int

	now func() time.Time
}

// NewDurableLevel creates a durable level over the given store.
func NewDurableLevel(store blobstore.Store, cfg DurableLevelConfig) *DurableLevel {
	threshold := cfg.CompressionThreshold
	if threshold == 0 {
		threshold = 512
	}
	return &DurableLevel{
		store:     store,
		ttl:       cfg.DefaultTTL,
		threshold: threshold,
		now:       time.Now,
	}
}

// Name implements Level.
func (c *DurableLevel) Name() string { return "durable" }

// Get returns the cached payload or ErrMiss. Expired entries are deleted
// best-effort.
func (c *DurableLevel) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrMiss
		}
		return nil, err
	}

	data, expireAt, err := decodeDurable(raw)
	if err != nil {
		return nil, err
	}

	if expireAt > 0 && c.now().Unix() >= expireAt {
		_ = c.store.Delete(ctx, key)
		return nil, ErrMiss
	}
	return data, nil
}

// Set stores the payload.
func (c *DurableLevel) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	var expireAt int64
	if ttl > 0 {
		expireAt = c.now().Add(ttl).Unix()
	}

	encoded, err := c.encodeDurable(data, expireAt)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, key, encoded)
}

// Delete removes the entry.
func (c *DurableLevel) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Close implements Level.
func (c *DurableLevel) Close() error { return nil }

func (c *DurableLevel) encodeDurable(data []byte, expireAt int64) ([]byte, error) {
	var flags byte
	payload := data

	if c.threshold >= 0 && len(data) >= c.threshold {
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, err
		}
		// n == 0 means incompressible, store raw.
		if n > 0 && n < len(data) {
			flags |= durableFlagLZ4
			payload = compressed[:n]
		}
	}

	out := make([]byte, durableHeaderSize+len(payload))
	copy(out[0:4], durableMagic[:])
	out[4] = flags
	binary.BigEndian.PutUint64(out[5:13], uint64(expireAt))
	binary.BigEndian.PutUint64(out[13:21], uint64(len(data)))
	copy(out[durableHeaderSize:], payload)
	return out, nil
}

func decodeDurable(raw []byte) (data []byte, expireAt int64, err error) {
	if len(raw) < durableHeaderSize {
		return nil, 0, fmt.Errorf("durable entry too short: %d bytes", len(raw))
	}
	if [4]byte(raw[0:4]) != durableMagic {
		return nil, 0, fmt.Errorf("bad durable entry magic")
	}

	flags := raw[4]
	expireAt = int64(binary.BigEndian.Uint64(raw[5:13]))
	origLen := binary.BigEndian.Uint64(raw[13:21])
	payload := raw[durableHeaderSize:]

	if flags&durableFlagLZ4 == 0 {
		return payload, expireAt, nil
	}

	out := make([]byte, origLen)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, 0, err
	}
	return out[:n], expireAt, nil
}
