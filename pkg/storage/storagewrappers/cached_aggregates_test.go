package storagewrappers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foodios/appview/pkg/storage"
)

type countingReader struct {
	calls int
	data  map[string]storage.Aggregates
}

func (r *countingReader) GetAggregates(_ context.Context, uris []string) (map[string]storage.Aggregates, error) {
	r.calls++
	out := map[string]storage.Aggregates{}
	for _, uri := range uris {
		out[uri] = r.data[uri]
	}
	return out, nil
}

func TestCachedAggregatesServesFromCache(t *testing.T) {
	inner := &countingReader{data: map[string]storage.Aggregates{
		"at://did:plc:a/app.bsky.feed.post/1": {Likes: 5},
	}}
	cached, err := NewCachedAggregatesReader(inner)
	require.NoError(t, err)
	t.Cleanup(cached.Close)

	ctx := context.Background()
	uris := []string{"at://did:plc:a/app.bsky.feed.post/1"}

	first, err := cached.GetAggregates(ctx, uris)
	require.NoError(t, err)
	require.EqualValues(t, 5, first[uris[0]].Likes)
	require.Equal(t, 1, inner.calls)

	second, err := cached.GetAggregates(ctx, uris)
	require.NoError(t, err)
	require.EqualValues(t, 5, second[uris[0]].Likes)
	require.Equal(t, 1, inner.calls)
}

func TestCachedAggregatesFetchesOnlyMisses(t *testing.T) {
	inner := &countingReader{data: map[string]storage.Aggregates{
		"a": {Likes: 1}, "b": {Likes: 2},
	}}
	cached, err := NewCachedAggregatesReader(inner, WithCacheSize(10), WithCacheTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(cached.Close)

	ctx := context.Background()

	_, err = cached.GetAggregates(ctx, []string{"a"})
	require.NoError(t, err)

	out, err := cached.GetAggregates(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.EqualValues(t, 1, out["a"].Likes)
	require.EqualValues(t, 2, out["b"].Likes)
	require.Equal(t, 2, inner.calls)
}

func TestCachedAggregatesInvalidate(t *testing.T) {
	inner := &countingReader{data: map[string]storage.Aggregates{"a": {Likes: 1}}}
	cached, err := NewCachedAggregatesReader(inner)
	require.NoError(t, err)
	t.Cleanup(cached.Close)

	ctx := context.Background()
	_, err = cached.GetAggregates(ctx, []string{"a"})
	require.NoError(t, err)

	cached.Invalidate("a")
	_, err = cached.GetAggregates(ctx, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}
