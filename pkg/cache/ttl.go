package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// DefaultSize bounds the number of entries held per cache
const DefaultSize = 1024

// DefaultLoadTimeout bounds a shared loader call
const DefaultLoadTimeout = 30 * time.Second

// ErrNilLoader is returned by GetOrLoad when no loader is supplied
var ErrNilLoader = errors.New("cache: nil loader")

// Entry is a cached value together with the time it was fetched
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
}

type options struct {
	clock       clockwork.Clock
	size        int
	loadTimeout time.Duration
	metrics     *observability.Metrics
}

// Option configures a TTLCache
type Option func(*options)

// WithClock sets the clock used for age checks
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithSize bounds the number of entries
func WithSize(size int) Option {
	return func(o *options) { o.size = size }
}

// WithLoadTimeout bounds each shared loader call in GetOrLoad
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) { o.loadTimeout = d }
}

// WithMetrics records hits and misses under the cache name
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// TTLCache is a bounded, string-keyed cache whose entries expire a fixed
// duration after they were fetched. Safe for concurrent use.
type TTLCache[T any] struct {
	name    string
	ttl     time.Duration
	clock   clockwork.Clock
	entries *expirable.LRU[string, Entry[T]]
	metrics *observability.Metrics
	timeout time.Duration

	loads singleflight.Group
	// generation is bumped by Invalidate so loads that started before an
	// invalidation do not repopulate the cache with their result.
	generation atomic.Uint64
}

// New creates a cache for one resource class
func New[T any](name string, ttl time.Duration, opts ...Option) *TTLCache[T] {
	o := &options{
		clock:       clockwork.NewRealClock(),
		size:        DefaultSize,
		loadTimeout: DefaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.size <= 0 {
		o.size = DefaultSize
	}
	if o.loadTimeout <= 0 {
		o.loadTimeout = DefaultLoadTimeout
	}

	// The LRU gets no TTL of its own: a non-zero TTL starts an eviction
	// goroutine that is never stopped. Age is checked against the clock in Get.
	return &TTLCache[T]{
		name:    name,
		ttl:     ttl,
		clock:   o.clock,
		entries: expirable.NewLRU[string, Entry[T]](o.size, nil, 0),
		metrics: o.metrics,
		timeout: o.loadTimeout,
	}
}

// Name returns the resource class name
func (c *TTLCache[T]) Name() string {
	return c.name
}

// TTL returns the staleness window
func (c *TTLCache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached value if it was fetched less than TTL ago
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T

	entry, ok := c.entries.Get(key)
	if !ok {
		c.metrics.RecordCacheMiss(c.name)
		return zero, false
	}

	if c.clock.Since(entry.FetchedAt) >= c.ttl {
		c.entries.Remove(key)
		c.metrics.RecordCacheMiss(c.name)
		return zero, false
	}

	c.metrics.RecordCacheHit(c.name)
	return entry.Value, true
}

// Peek returns the raw entry without age checks or recency updates
func (c *TTLCache[T]) Peek(key string) (Entry[T], bool) {
	return c.entries.Peek(key)
}

// Set stores value as fetched now
func (c *TTLCache[T]) Set(key string, value T) {
	c.entries.Add(key, Entry[T]{Value: value, FetchedAt: c.clock.Now()})
}

// Invalidate removes the given keys, or every entry when called without keys
func (c *TTLCache[T]) Invalidate(keys ...string) {
	c.generation.Add(1)
	if len(keys) == 0 {
		c.entries.Purge()
		return
	}
	for _, key := range keys {
		c.entries.Remove(key)
	}
}

// Len returns the number of entries, including ones past their TTL that
// have not been evicted yet
func (c *TTLCache[T]) Len() int {
	return c.entries.Len()
}

// GetOrLoad returns the cached value or calls loader on a miss and caches
// its result. Concurrent misses for the same key share one loader call,
// which runs detached from the callers' cancellation under the load
// timeout. A caller whose ctx ends stops waiting with ctx.Err(). Loader
// errors are returned and nothing is cached.
func (c *TTLCache[T]) GetOrLoad(ctx context.Context, key string, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if loader == nil {
		return zero, ErrNilLoader
	}

	if value, ok := c.Get(key); ok {
		return value, nil
	}

	ch := c.loads.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		generation := c.generation.Load()
		value, err := loader(loadCtx)
		if err != nil {
			return zero, err
		}
		if c.generation.Load() == generation {
			c.Set(key, value)
		}
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		value, _ := res.Val.(T)
		return value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
