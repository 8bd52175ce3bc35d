package manifest_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/manifest"
	"github.com/fincache/fincache/internal/store"
)

func newManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	ctx := context.Background()
	pool, err := store.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return manifest.New(pool, "bars_abc", []string{"symbol"}, map[string]codec.LogicalType{"symbol": codec.TypeString})
}

func key(symbol string) ident.Fields {
	return ident.NewFields([]string{"symbol"}, map[string]any{"symbol": symbol})
}

func TestCoalescingAdjacentIntervals(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 5, 10))
	require.NoError(t, m.AddInterval(ctx, key("X"), 10, 15))

	all, err := m.ListAll(ctx, key("X"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, manifest.Interval{Start: 5, End: 15}, all[0])
}

func TestCoalescingOverlapping(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 0, 5))
	require.NoError(t, m.AddInterval(ctx, key("X"), 20, 25))
	require.NoError(t, m.AddInterval(ctx, key("X"), 3, 22))

	all, err := m.ListAll(ctx, key("X"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, manifest.Interval{Start: 0, End: 25}, all[0])
}

func TestDisjointIntervalsStayDisjoint(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 0, 5))
	require.NoError(t, m.AddInterval(ctx, key("X"), 10, 15))

	all, err := m.ListAll(ctx, key("X"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, manifest.Interval{Start: 0, End: 5}, all[0])
	assert.Equal(t, manifest.Interval{Start: 10, End: 15}, all[1])
}

func TestGetMissingDecomposition(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 1, 2))
	require.NoError(t, m.AddInterval(ctx, key("X"), 3, 4))
	require.NoError(t, m.AddInterval(ctx, key("X"), 5, 6))

	missing, err := m.GetMissing(ctx, key("X"), 0, 10)
	require.NoError(t, err)
	require.Equal(t, []manifest.Interval{
		{Start: 0, End: 1},
		{Start: 2, End: 3},
		{Start: 4, End: 5},
		{Start: 6, End: 10},
	}, missing)
}

func TestGetMissingFullyCovered(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 0, 10))

	missing, err := m.GetMissing(ctx, key("X"), 2, 8)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestGetMissingEmptyRangeIsNoop(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	missing, err := m.GetMissing(ctx, key("X"), 10, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 0, 10))

	missing, err := m.GetMissing(ctx, key("Y"), 0, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, manifest.Interval{Start: 0, End: 10}, missing[0])
}

func TestAddIntervalRejectsEmptyRange(t *testing.T) {
	ctx := context.Background()
	m := newManifest(t)

	require.NoError(t, m.AddInterval(ctx, key("X"), 10, 10))
	require.NoError(t, m.AddInterval(ctx, key("X"), 10, 5))

	all, err := m.ListAll(ctx, key("X"))
	require.NoError(t, err)
	assert.Empty(t, all)
}
