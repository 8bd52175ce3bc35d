// Package pointcache implements the point cache (component C4): a
// single-row-per-key lookaside cache over an arbitrary fetcher
// callback, backed by one physical table per dataset.
package pointcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fincache/fincache/internal/cacheerr"
	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/frame"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/obsmetrics"
	"github.com/fincache/fincache/internal/schema"
	"github.com/fincache/fincache/internal/store"
)

// Fetcher retrieves the authoritative value for keyFields when it is
// absent from the cache. A nil return paired with a nil error means
// "no value exists"; the cache does not write a row in that case.
type Fetcher func(ctx context.Context, keyFields ident.Fields) (any, error)

// Cache is a point cache bound to one physical table.
type Cache struct {
	pool      *store.Pool
	schema    *schema.Manager
	tableName string
	log       *log.Entry
}

// New returns a point Cache for tableName, backed by pool.
func New(pool *store.Pool, tableName string) *Cache {
	return &Cache{
		pool:      pool,
		schema:    schema.New(pool),
		tableName: tableName,
		log:       log.WithField("component", "pointcache").WithField("table", tableName),
	}
}

// Fetch implements the point-cache lookup/miss/fetch/store cycle
// described in SPEC_FULL.md §4.4. keyFields forms the row's primary
// key; fetch may be nil, in which case a miss returns
// cacheerr.ErrCacheMissNoFetcher instead of calling out.
func (c *Cache) Fetch(ctx context.Context, keyFields ident.Fields, fetch Fetcher) (any, error) {
	info, err := c.schema.GetTableInfo(ctx, c.tableName)
	if err != nil {
		return nil, err
	}

	if info.Exists {
		value, found, err := c.read(ctx, keyFields, info.PointType)
		if err != nil {
			return nil, err
		}
		if found {
			obsmetrics.ObserveLookup(c.tableName, true)
			return value, nil
		}
	}

	obsmetrics.ObserveLookup(c.tableName, false)
	if fetch == nil {
		return nil, cacheerr.MissNoFetcher(fmt.Sprintf("no cached row for key in %s and no fetcher supplied", c.tableName))
	}

	fetchStart := time.Now()
	fetched, err := fetch(ctx, keyFields)
	obsmetrics.ObserveFetch(c.tableName, time.Since(fetchStart).Seconds(), err)
	if err != nil {
		return nil, cacheerr.FetcherFailure("fetcher failed for "+c.tableName, err)
	}
	if fetched == nil {
		return nil, nil
	}
	if _, ok := fetched.(*frame.Frame); ok {
		return nil, cacheerr.Inconsistency(
			"point fetcher for "+c.tableName+" returned a tabular batch; point cache values must be scalar/structured", nil)
	}

	decl := schema.InferPointSchema(c.tableName, keyFields, fetched)
	if err := c.schema.EnsureTable(ctx, decl); err != nil {
		return nil, err
	}
	if err := c.upsert(ctx, keyFields, fetched, decl.Types["data"]); err != nil {
		return nil, err
	}

	value, found, err := c.read(ctx, keyFields, decl.Types["data"])
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cacheerr.Inconsistency("row vanished immediately after insert in "+c.tableName, nil)
	}
	return value, nil
}

func (c *Cache) read(ctx context.Context, keyFields ident.Fields, pointType codec.LogicalType) (any, bool, error) {
	var (
		value any
		found bool
	)
	err := c.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		where, args := whereClause(keyFields)
		query := fmt.Sprintf(`SELECT %s FROM %s`, ident.Quote("data"), ident.Quote(c.tableName))
		if where != "" {
			query += " WHERE " + where
		}

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return cacheerr.StorageFailure("reading point row", err)
		}
		defer rows.Close()

		var stored []any
		for rows.Next() {
			var raw any
			if err := rows.Scan(&raw); err != nil {
				return cacheerr.StorageFailure("scanning point row", err)
			}
			stored = append(stored, raw)
		}
		if err := rows.Err(); err != nil {
			return cacheerr.StorageFailure("iterating point rows", err)
		}

		switch len(stored) {
		case 0:
			return nil
		case 1:
			decoded, err := codec.Decode(pointType, stored[0], nil)
			if err != nil {
				return cacheerr.StorageFailure("decoding point row", err)
			}
			value, found = decoded, true
			return nil
		default:
			return cacheerr.Inconsistency(fmt.Sprintf("%d rows for a single point key in %s", len(stored), c.tableName), nil)
		}
	})
	return value, found, err
}

func (c *Cache) upsert(ctx context.Context, keyFields ident.Fields, value any, pointType codec.LogicalType) error {
	return c.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		encoded, err := codec.Encode(pointType, value)
		if err != nil {
			return cacheerr.StorageFailure("encoding point value", err)
		}

		cols := append([]string(nil), keyFields.Names()...)
		cols = append(cols, "data")
		placeholders := make([]string, len(cols))
		args := make([]any, 0, len(cols))
		for i, name := range keyFields.Names() {
			placeholders[i] = "?"
			v, _ := keyFields.Get(name)
			args = append(args, encodeKeyValue(v))
		}
		placeholders[len(cols)-1] = "?"
		args = append(args, encoded.Value)

		stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
			ident.Quote(c.tableName), strings.Join(quoteNames(cols), ", "), strings.Join(placeholders, ", "))
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return cacheerr.StorageFailure("upserting point row", err)
		}
		return nil
	})
}

// ListAllCached returns one map per row currently cached in this
// dataset's table, holding the keyColumns' stored values and the
// decoded value under "data". This supplements the original point
// cache with a bulk listing used by maintenance and diagnostics code
// (SPEC_FULL.md §5.1).
func (c *Cache) ListAllCached(ctx context.Context, keyColumns []string) ([]map[string]any, error) {
	info, err := c.schema.GetTableInfo(ctx, c.tableName)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return nil, nil
	}

	var out []map[string]any
	err = c.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		cols := append(append([]string(nil), keyColumns...), "data")
		query := fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(quoteNames(cols), ", "), ident.Quote(c.tableName))
		rows, err := q.QueryContext(ctx, query)
		if err != nil {
			return cacheerr.StorageFailure("listing cached rows", err)
		}
		defer rows.Close()

		for rows.Next() {
			raw := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range raw {
				ptrs[i] = &raw[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return cacheerr.StorageFailure("scanning cached row", err)
			}

			decodedData, err := codec.Decode(info.PointType, raw[len(raw)-1], nil)
			if err != nil {
				return cacheerr.StorageFailure("decoding cached row", err)
			}
			row := make(map[string]any, len(cols))
			for i, name := range keyColumns {
				row[name] = raw[i]
			}
			row["data"] = decodedData
			out = append(out, row)
		}
		return rows.Err()
	})
	return out, err
}

// SelectByPrimaryKeys returns decoded values for exactly the given
// primary-key tuples, skipping keys with no cached row rather than
// erroring. This supplements the original point cache with a
// bulk-select path used by batch consumers (SPEC_FULL.md §5.1).
func (c *Cache) SelectByPrimaryKeys(ctx context.Context, keys []ident.Fields) (map[int]any, error) {
	info, err := c.schema.GetTableInfo(ctx, c.tableName)
	if err != nil {
		return nil, err
	}
	results := make(map[int]any)
	if !info.Exists {
		return results, nil
	}

	for i, k := range keys {
		value, found, err := c.read(ctx, k, info.PointType)
		if err != nil {
			return nil, err
		}
		if found {
			results[i] = value
		}
	}
	return results, nil
}

func whereClause(keyFields ident.Fields) (string, []any) {
	if keyFields.Len() == 0 {
		return "", nil
	}
	var sb strings.Builder
	args := make([]any, 0, keyFields.Len())
	for i, name := range keyFields.Names() {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = ?", ident.Quote(name))
		v, _ := keyFields.Get(name)
		args = append(args, encodeKeyValue(v))
	}
	return sb.String(), args
}

func encodeKeyValue(v any) any {
	t := codec.InferLogicalType(v)
	res, err := codec.Encode(t, v)
	if err != nil {
		return v
	}
	return res.Value
}

func quoteNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident.Quote(n)
	}
	return out
}
