package storagewrappers

import (
	"context"

	"github.com/foodios/appview/pkg/storage"
)

// CachedDatastore overlays the aggregates cache on a full datastore. All other
// reads pass through unchanged.
type CachedDatastore struct {
	storage.Datastore
	aggregates *CachedAggregatesReader
}

// NewCachedDatastore wraps inner so aggregate lookups are served from an
// in-process cache.
func NewCachedDatastore(inner storage.Datastore, opts ...CachedAggregatesOption) (*CachedDatastore, error) {
	aggregates, err := NewCachedAggregatesReader(inner, opts...)
	if err != nil {
		return nil, err
	}
	return &CachedDatastore{Datastore: inner, aggregates: aggregates}, nil
}

// GetAggregates see [storage.RecordReader].GetAggregates.
func (c *CachedDatastore) GetAggregates(ctx context.Context, uris []string) (map[string]storage.Aggregates, error) {
	return c.aggregates.GetAggregates(ctx, uris)
}

// Close releases the cache and the wrapped datastore.
func (c *CachedDatastore) Close() {
	c.aggregates.Close()
	c.Datastore.Close()
}
