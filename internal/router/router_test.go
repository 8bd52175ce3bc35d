package router_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/config"
	"github.com/fincache/fincache/internal/frame"
	"github.com/fincache/fincache/internal/router"
	"github.com/fincache/fincache/internal/store"
)

type profileArgs struct {
	Symbol string
}

func TestRegisterPointWrapsAndCaches(t *testing.T) {
	ctx := context.Background()
	reg := router.NewRegistry(store.NewRegistry())
	calls := 0

	provider := func(ctx context.Context, args profileArgs) (string, error) {
		calls++
		return args.Symbol + " Inc.", nil
	}

	wrapped, err := reg.Register("profile", provider, config.CacheConfig{
		DBPath:    filepath.Join(t.TempDir(), "cache.db"),
		KeyFields: []string{"Symbol"},
	})
	require.NoError(t, err)

	fn := wrapped.(func(context.Context, profileArgs) (string, error))
	v1, err := fn(ctx, profileArgs{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL Inc.", v1)
	assert.Equal(t, 1, calls)

	v2, err := fn(ctx, profileArgs{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL Inc.", v2)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestRegisterWithEmptyDBPathIsIdentity(t *testing.T) {
	provider := func(ctx context.Context, args profileArgs) (string, error) {
		return args.Symbol, nil
	}

	reg := router.NewRegistry(store.NewRegistry())
	wrapped, err := reg.Register("identity", provider, config.CacheConfig{KeyFields: []string{"Symbol"}})
	require.NoError(t, err)

	fn := wrapped.(func(context.Context, profileArgs) (string, error))
	v, err := fn(context.Background(), profileArgs{Symbol: "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", v)
}

type barsArgs struct {
	Symbol string
}

func TestRegisterRangeWrapsAndCaches(t *testing.T) {
	ctx := context.Background()
	reg := router.NewRegistry(store.NewRegistry())
	calls := 0

	provider := func(ctx context.Context, args barsArgs, start, end time.Time) (*frame.Frame, error) {
		calls++
		f := frame.New([]string{"date", "close"}, map[string]codec.LogicalType{
			"date": codec.TypeTimestamp, "close": codec.TypeFloat,
		})
		// Report data all the way up to end so the manifest fully
		// covers the requested window and a repeat call is a pure hit.
		f.AppendRow(map[string]any{"date": end.Add(-time.Microsecond), "close": 1.0})
		return f, nil
	}

	wrapped, err := reg.Register("bars", provider, config.CacheConfig{
		DBPath:           filepath.Join(t.TempDir(), "cache.db"),
		KeyFields:        []string{"Symbol"},
		StartCol:         "start",
		EndCol:           "end",
		MissingThreshold: 1,
	})
	require.NoError(t, err)

	fn := wrapped.(func(context.Context, barsArgs, time.Time, time.Time) (*frame.Frame, error))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	got, err := fn(ctx, barsArgs{Symbol: "AAPL"}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, 1, calls)

	got2, err := fn(ctx, barsArgs{Symbol: "AAPL"}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, got2.Len())
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestRegisterRangeWithAnyBoundsUsesGeneralizedParsing(t *testing.T) {
	ctx := context.Background()
	reg := router.NewRegistry(store.NewRegistry())
	calls := 0

	var gotStart, gotEnd time.Time
	provider := func(ctx context.Context, args barsArgs, start, end any) (*frame.Frame, error) {
		calls++
		gotStart, gotEnd = start.(time.Time), end.(time.Time)
		f := frame.New([]string{"date", "close"}, map[string]codec.LogicalType{
			"date": codec.TypeTimestamp, "close": codec.TypeFloat,
		})
		f.AppendRow(map[string]any{"date": gotEnd.Add(-time.Microsecond), "close": 1.0})
		return f, nil
	}

	wrapped, err := reg.Register("bars-any", provider, config.CacheConfig{
		DBPath:           filepath.Join(t.TempDir(), "cache.db"),
		KeyFields:        []string{"Symbol"},
		StartCol:         "start",
		EndCol:           "end",
		MissingThreshold: 1,
	})
	require.NoError(t, err)

	fn := wrapped.(func(context.Context, barsArgs, any, any) (*frame.Frame, error))

	// A provider typed with `any` bounds accepts a generalized timestamp
	// representation on the outer call; spec.md §4.6 step 4's parsing
	// resolves it before the provider ever runs, so the provider itself
	// still sees a plain time.Time.
	got, err := fn(ctx, barsArgs{Symbol: "AAPL"}, "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, 1, calls)
	assert.True(t, gotStart.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, gotEnd.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	got2, err := fn(ctx, barsArgs{Symbol: "AAPL"}, "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, got2.Len())
	assert.Equal(t, 1, calls, "second call must be served from cache")
}
