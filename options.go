package ragserve

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/ragserve/codec"
	"github.com/hupe1980/ragserve/planner"
)

// Config holds service tuning parameters. Zero values are replaced by the
// defaults from DefaultConfig during New.
type Config struct {
	// DefaultTopK is the result count used when a request passes topK <= 0.
	DefaultTopK int

	// ShardTimeout bounds each per-shard retrieval call. A shard that
	// exceeds it is dropped from the result rather than failing the query.
	ShardTimeout time.Duration

	// GenerationTimeout bounds each generation call.
	GenerationTimeout time.Duration

	// MaxConcurrentQueries bounds in-flight items during query_many.
	MaxConcurrentQueries int64

	// GenerationRate limits generation calls per second. 0 disables the
	// limiter.
	GenerationRate float64
	// GenerationBurst is the limiter burst size. Ignored when
	// GenerationRate is 0.
	GenerationBurst int

	// FastCacheSize is the entry capacity of the in-process cache level.
	FastCacheSize int

	// FastCacheTTL, SharedCacheTTL and DurableCacheTTL set per-level entry
	// lifetimes.
	FastCacheTTL    time.Duration
	SharedCacheTTL  time.Duration
	DurableCacheTTL time.Duration

	// AsyncCacheWriteBack writes to the shared and durable levels in the
	// background instead of on the request path.
	AsyncCacheWriteBack bool

	// Planner configures index selection thresholds.
	Planner planner.Config

	// OptimizeMinQueries is the per-bucket sample size required before
	// optimize_indices emits a recommendation for that bucket.
	OptimizeMinQueries int64
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:          5,
		ShardTimeout:         2 * time.Second,
		GenerationTimeout:    30 * time.Second,
		MaxConcurrentQueries: 16,
		FastCacheSize:        1024,
		FastCacheTTL:         time.Minute,
		SharedCacheTTL:       5 * time.Minute,
		DurableCacheTTL:      24 * time.Hour,
		Planner:              planner.DefaultConfig(),
		OptimizeMinQueries:   50,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = d.DefaultTopK
	}
	if c.ShardTimeout <= 0 {
		c.ShardTimeout = d.ShardTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.MaxConcurrentQueries <= 0 {
		c.MaxConcurrentQueries = d.MaxConcurrentQueries
	}
	if c.FastCacheSize <= 0 {
		c.FastCacheSize = d.FastCacheSize
	}
	if c.FastCacheTTL <= 0 {
		c.FastCacheTTL = d.FastCacheTTL
	}
	if c.SharedCacheTTL <= 0 {
		c.SharedCacheTTL = d.SharedCacheTTL
	}
	if c.DurableCacheTTL <= 0 {
		c.DurableCacheTTL = d.DurableCacheTTL
	}
	if c.OptimizeMinQueries <= 0 {
		c.OptimizeMinQueries = d.OptimizeMinQueries
	}
	c.Planner.ApplyDefaults()
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.GenerationRate < 0 {
		return fmt.Errorf("generation rate must not be negative: %f", c.GenerationRate)
	}
	if c.GenerationRate > 0 && c.GenerationBurst <= 0 {
		return fmt.Errorf("generation burst must be positive when rate limiting is enabled")
	}
	return c.Planner.Validate()
}

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures service constructor behavior.
type Option func(*options)

// WithCodec configures the codec used for cached payloads.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
