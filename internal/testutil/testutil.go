// Package testutil provides test fixtures for the cache core, grounded
// on the teacher's internal/sinktest/all.Fixture pattern: a single
// struct that wires up everything a test needs against a throwaway
// store, constructed with one call and torn down with one deferred
// cleanup.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/manifest"
	"github.com/fincache/fincache/internal/pointcache"
	"github.com/fincache/fincache/internal/rangecache"
	"github.com/fincache/fincache/internal/schema"
	"github.com/fincache/fincache/internal/store"
)

// Fixture provides a complete, disposable store-backed environment:
// one Pool opened against a temp-dir sqlite file, plus schema/manifest
// managers over it. Call NewFixture once per test; its cleanup is
// registered automatically via t.Cleanup.
type Fixture struct {
	T      *testing.T
	Pool   *store.Pool
	Schema *schema.Manager
}

// NewFixture opens a fresh store in t's temp directory and returns a
// Fixture bound to it.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	pool, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	return &Fixture{
		T:      t,
		Pool:   pool,
		Schema: schema.New(pool),
	}
}

// PointCache returns a point cache over tableName bound to the
// fixture's pool.
func (f *Fixture) PointCache(tableName string) *pointcache.Cache {
	return pointcache.New(f.Pool, tableName)
}

// RangeCache returns a range cache over tableName bound to the
// fixture's pool.
func (f *Fixture) RangeCache(tableName string, keyColumns []string, keyTypes map[string]codec.LogicalType, missingThreshold int) *rangecache.Cache {
	return rangecache.New(f.Pool, tableName, keyColumns, keyTypes, missingThreshold)
}

// Manifest returns an interval manifest for tableName bound to the
// fixture's pool.
func (f *Fixture) Manifest(tableName string, keyColumns []string, keyTypes map[string]codec.LogicalType) *manifest.Manifest {
	return manifest.New(f.Pool, tableName, keyColumns, keyTypes)
}

// Key builds a single-field ident.Fields, the shape most provider
// fixtures in tests need for a symbol-keyed dataset.
func Key(name string, value any) ident.Fields {
	return ident.NewFields([]string{name}, map[string]any{name: value})
}

// StaticPointFetcher returns a pointcache.Fetcher that always returns
// value, for tests that don't care about fetch call counting.
func StaticPointFetcher(value any) pointcache.Fetcher {
	return func(ctx context.Context, keyFields ident.Fields) (any, error) {
		return value, nil
	}
}
