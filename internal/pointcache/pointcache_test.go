package pointcache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/cacheerr"
	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/frame"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/pointcache"
	"github.com/fincache/fincache/internal/store"
)

func newCache(t *testing.T) *pointcache.Cache {
	t.Helper()
	pool, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pointcache.New(pool, "profile_abc")
}

func key(symbol string) ident.Fields {
	return ident.NewFields([]string{"symbol"}, map[string]any{"symbol": symbol})
}

func TestFetchMissCallsFetcherAndCachesResult(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	calls := 0

	fetcher := func(ctx context.Context, k ident.Fields) (any, error) {
		calls++
		return "Apple Inc.", nil
	}

	v1, err := c.Fetch(ctx, key("AAPL"), fetcher)
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", v1)
	assert.Equal(t, 1, calls)

	v2, err := c.Fetch(ctx, key("AAPL"), fetcher)
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", v2)
	assert.Equal(t, 1, calls, "second fetch must be served from cache")
}

func TestFetchMissWithoutFetcherReturnsMissError(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	_, err := c.Fetch(ctx, key("AAPL"), nil)
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrCacheMissNoFetcher))
}

func TestFetchPropagatesFetcherError(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	boom := assert.AnError

	_, err := c.Fetch(ctx, key("AAPL"), func(ctx context.Context, k ident.Fields) (any, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrFetcherFailure))
}

func TestFetchNilFetcherResultIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	v, err := c.Fetch(ctx, key("AAPL"), func(ctx context.Context, k ident.Fields) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFetchRejectsTabularBatch(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	f := frame.New([]string{"date"}, map[string]codec.LogicalType{"date": codec.TypeTimestamp})
	_, err := c.Fetch(ctx, key("AAPL"), func(ctx context.Context, k ident.Fields) (any, error) {
		return f, nil
	})
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrCacheInconsistency))
}

func TestListAllCachedAndSelectByPrimaryKeys(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	fetcher := func(sym string) pointcache.Fetcher {
		return func(ctx context.Context, k ident.Fields) (any, error) { return sym + " Inc.", nil }
	}
	_, err := c.Fetch(ctx, key("AAPL"), fetcher("Apple"))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, key("MSFT"), fetcher("Microsoft"))
	require.NoError(t, err)

	all, err := c.ListAllCached(ctx, []string{"symbol"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	selected, err := c.SelectByPrimaryKeys(ctx, []ident.Fields{key("AAPL"), key("GOOG")})
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", selected[0])
	_, ok := selected[1]
	assert.False(t, ok, "uncached key must be absent from the result map")
}
