package schema_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/cacheerr"
	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/schema"
	"github.com/fincache/fincache/internal/store"
)

func newManager(t *testing.T) *schema.Manager {
	t.Helper()
	pool, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return schema.New(pool)
}

func symbolKey(v string) ident.Fields {
	return ident.NewFields([]string{"symbol"}, map[string]any{"symbol": v})
}

func TestEnsureTablePointCreatesTableAndCatalogRow(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	decl := schema.InferPointSchema("quotes_abc", symbolKey("AAPL"), 123.45)
	require.NoError(t, m.EnsureTable(ctx, decl))

	info, err := m.GetTableInfo(ctx, "quotes_abc")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.False(t, info.IsFrame)
	assert.Equal(t, codec.TypeFloat, info.PointType)
}

func TestEnsureTableFrameCreatesTableAndColumnCatalog(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	cols := []string{"date", "close"}
	types := map[string]codec.LogicalType{"date": codec.TypeTimestamp, "close": codec.TypeFloat}
	decl := schema.InferFrameSchema("bars_abc", symbolKey("AAPL"), cols, types)
	require.NoError(t, m.EnsureTable(ctx, decl))

	info, err := m.GetTableInfo(ctx, "bars_abc")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.True(t, info.IsFrame)
	assert.Equal(t, codec.TypeTimestamp, info.Columns["date"])
	assert.Equal(t, codec.TypeFloat, info.Columns["close"])
	assert.Equal(t, codec.TypeString, info.Columns["symbol"])
}

func TestEnsureTableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	decl := schema.InferPointSchema("quotes_abc", symbolKey("AAPL"), 1)
	require.NoError(t, m.EnsureTable(ctx, decl))
	require.NoError(t, m.EnsureTable(ctx, decl))
}

func TestEnsureTableDetectsTypeConflict(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	require.NoError(t, m.EnsureTable(ctx, schema.InferPointSchema("quotes_abc", symbolKey("AAPL"), 1)))

	conflicting := schema.InferPointSchema("quotes_abc", symbolKey("AAPL"), "not a number")
	err := m.EnsureTable(ctx, conflicting)
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrSchemaConflict))
}

func TestReconcileColumnsAddsMissingColumn(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	decl := schema.InferFrameSchema("bars_abc", symbolKey("AAPL"),
		[]string{"date", "close"}, map[string]codec.LogicalType{"date": codec.TypeTimestamp, "close": codec.TypeFloat})
	require.NoError(t, m.EnsureTable(ctx, decl))

	err := m.ReconcileColumns(ctx, "bars_abc", []string{"date", "close", "volume"},
		map[string]codec.LogicalType{"date": codec.TypeTimestamp, "close": codec.TypeFloat, "volume": codec.TypeInt})
	require.NoError(t, err)

	info, err := m.GetTableInfo(ctx, "bars_abc")
	require.NoError(t, err)
	assert.Equal(t, codec.TypeInt, info.Columns["volume"])
}

func TestReconcileColumnsOnUnknownTableFails(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	err := m.ReconcileColumns(ctx, "nope", []string{"x"}, map[string]codec.LogicalType{"x": codec.TypeInt})
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.ErrConfiguration))
}
