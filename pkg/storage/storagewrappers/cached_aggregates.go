// Package storagewrappers composes datastore decorators around the engine
// implementations.
package storagewrappers

import (
	"context"
	"time"

	"github.com/Yiling-J/theine-go"

	"github.com/foodios/appview/pkg/storage"
)

const (
	defaultAggregatesCacheSize = 100_000
	defaultAggregatesCacheTTL  = 30 * time.Second
)

// CachedAggregatesReader memoizes aggregate lookups. Aggregates are hot (every
// feed page reads them for every item) and tolerate short staleness, so a
// small TTL takes most of the read load off the grouped count queries.
type CachedAggregatesReader struct {
	inner storage.AggregatesReader
	cache *theine.Cache[string, storage.Aggregates]
	ttl   time.Duration
}

// CachedAggregatesOption applies an option to a CachedAggregatesReader.
type CachedAggregatesOption func(*cachedAggregatesConfig)

type cachedAggregatesConfig struct {
	size int64
	ttl  time.Duration
}

// WithCacheSize overrides the maximum number of cached subjects.
func WithCacheSize(size int64) CachedAggregatesOption {
	return func(cfg *cachedAggregatesConfig) {
		cfg.size = size
	}
}

// WithCacheTTL overrides the entry time-to-live.
func WithCacheTTL(ttl time.Duration) CachedAggregatesOption {
	return func(cfg *cachedAggregatesConfig) {
		cfg.ttl = ttl
	}
}

// NewCachedAggregatesReader wraps inner with an in-process cache.
func NewCachedAggregatesReader(inner storage.AggregatesReader, opts ...CachedAggregatesOption) (*CachedAggregatesReader, error) {
	cfg := &cachedAggregatesConfig{
		size: defaultAggregatesCacheSize,
		ttl:  defaultAggregatesCacheTTL,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache, err := theine.NewBuilder[string, storage.Aggregates](cfg.size).Build()
	if err != nil {
		return nil, err
	}
	return &CachedAggregatesReader{inner: inner, cache: cache, ttl: cfg.ttl}, nil
}

// GetAggregates serves cached entries and fetches only the misses, in one
// batched inner call.
func (c *CachedAggregatesReader) GetAggregates(ctx context.Context, uris []string) (map[string]storage.Aggregates, error) {
	out := make(map[string]storage.Aggregates, len(uris))
	misses := make([]string, 0, len(uris))
	for _, uri := range uris {
		if agg, ok := c.cache.Get(uri); ok {
			out[uri] = agg
			continue
		}
		misses = append(misses, uri)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.inner.GetAggregates(ctx, misses)
	if err != nil {
		return nil, err
	}
	for uri, agg := range fetched {
		out[uri] = agg
		c.cache.SetWithTTL(uri, agg, 1, c.ttl)
	}
	return out, nil
}

// Invalidate drops one subject from the cache, for callers that just changed
// its aggregates.
func (c *CachedAggregatesReader) Invalidate(uri string) {
	c.cache.Delete(uri)
}

// Close releases the cache's background resources.
func (c *CachedAggregatesReader) Close() {
	c.cache.Close()
}
