// Package rangecache implements the range cache (component C5):
// serves a half-open interval over the time axis by consulting the
// interval manifest for the uncovered sub-ranges, dispatching a
// caller-provided fetcher for those gaps (one fetch per gap, or a
// single fetch spanning all of them once their count exceeds the
// missing threshold), persisting the
// fetched rows, advancing the manifest to the observed data extent,
// and returning the assembled rows for the originally requested
// window.
package rangecache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fincache/fincache/internal/cacheerr"
	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/frame"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/manifest"
	"github.com/fincache/fincache/internal/obsmetrics"
	"github.com/fincache/fincache/internal/schema"
	"github.com/fincache/fincache/internal/store"
)

// DateColumn is the name a fetched batch's timestamp column must
// carry. The spec fixes this name; it is not configurable.
const DateColumn = "date"

// DefaultMissingThreshold is used when a caller does not override the
// fragmentation threshold that switches dispatch from per-gap fetches
// to a single coalesced fetch.
const DefaultMissingThreshold = 1

// Fetcher retrieves rows for keyFields over the half-open range
// [start, end) in UTC microseconds. It may return fewer rows than the
// full range (a partial response); the range cache advances the
// manifest only to the observed maximum date, leaving any
// under-fetched tail eligible for a later retry.
type Fetcher func(ctx context.Context, keyFields, commonFields, exceptFields ident.Fields, start, end int64) (*frame.Frame, error)

// Cache is a range cache bound to one physical data table and its
// interval manifest.
type Cache struct {
	pool             *store.Pool
	schema           *schema.Manager
	manifest         *manifest.Manifest
	tableName        string
	missingThreshold int
	log              *log.Entry
}

// New returns a range Cache for tableName, backed by pool. keyColumns
// and keyTypes type the manifest's key columns; missingThreshold
// overrides SPEC_FULL.md §4.5's dispatch fragmentation threshold (use
// DefaultMissingThreshold when the caller has no opinion).
func New(pool *store.Pool, tableName string, keyColumns []string, keyTypes map[string]codec.LogicalType, missingThreshold int) *Cache {
	return &Cache{
		pool:             pool,
		schema:           schema.New(pool),
		manifest:         manifest.New(pool, tableName, keyColumns, keyTypes),
		tableName:        tableName,
		missingThreshold: missingThreshold,
		log:              log.WithField("component", "rangecache").WithField("table", tableName),
	}
}

// History implements the dispatch, persist, manifest-advance, and
// assembly steps of SPEC_FULL.md §4.5.
//
// fieldMap is the spec's optional field_map indirection: when
// non-empty, the fetcher is called with a single remapped field bag
// {k: bag[v] for k, v in fieldMap} in place of the separate
// commonFields/exceptFields groups, letting an adapter rename or
// rearrange parameters without touching the fetcher's body. It has no
// effect on manifest bookkeeping or schema inference, which always use
// the original keyFields.
func (c *Cache) History(ctx context.Context, keyFields, commonFields, exceptFields ident.Fields, start, end int64, fetch Fetcher, fieldMap map[string]string) (*frame.Frame, error) {
	if end <= start {
		return c.assemble(ctx, keyFields, start, end)
	}

	if len(fieldMap) > 0 {
		remapped := applyFieldMap(combinedBag(keyFields, commonFields, exceptFields), fieldMap)
		commonFields, exceptFields = remapped, ident.Fields{}
	}

	missing, err := c.manifest.GetMissing(ctx, keyFields, start, end)
	if err != nil {
		return nil, err
	}

	obsmetrics.ObserveLookup(c.tableName, len(missing) == 0)
	if len(missing) > 0 {
		if fetch == nil {
			return nil, cacheerr.MissNoFetcher(fmt.Sprintf("range gaps in %s and no fetcher supplied", c.tableName))
		}
		if err := c.dispatch(ctx, keyFields, commonFields, exceptFields, missing, fetch); err != nil {
			return nil, err
		}
	}

	if all, err := c.manifest.ListAll(ctx, keyFields); err == nil {
		obsmetrics.SetManifestIntervals(c.tableName, len(all))
	}

	return c.assemble(ctx, keyFields, start, end)
}

// combinedBag unions keyFields, commonFields, and exceptFields into
// the single argument bag spec.md §4.5's field_map indirection maps
// over.
func combinedBag(keyFields, commonFields, exceptFields ident.Fields) ident.Fields {
	groups := []ident.Fields{keyFields, commonFields, exceptFields}
	names := make([]string, 0, keyFields.Len()+commonFields.Len()+exceptFields.Len())
	values := make(map[string]any, cap(names))
	for _, g := range groups {
		for _, n := range g.Names() {
			v, _ := g.Get(n)
			names = append(names, n)
			values[n] = v
		}
	}
	return ident.NewFields(names, values)
}

// applyFieldMap returns {k: bag[v] for k, v in fieldMap}, with keys
// ordered lexically for determinism (fieldMap is an unordered Go map).
func applyFieldMap(bag ident.Fields, fieldMap map[string]string) ident.Fields {
	names := make([]string, 0, len(fieldMap))
	for k := range fieldMap {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make(map[string]any, len(names))
	for _, k := range names {
		v, _ := bag.Get(fieldMap[k])
		values[k] = v
	}
	return ident.NewFields(names, values)
}

func (c *Cache) dispatch(ctx context.Context, keyFields, commonFields, exceptFields ident.Fields, missing []manifest.Interval, fetch Fetcher) error {
	if len(missing) > c.missingThreshold {
		coalesced := manifest.Interval{Start: missing[0].Start, End: missing[len(missing)-1].End}
		return c.fetchAndPersist(ctx, keyFields, commonFields, exceptFields, coalesced, fetch)
	}
	for _, gap := range missing {
		if err := c.fetchAndPersist(ctx, keyFields, commonFields, exceptFields, gap, fetch); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) fetchAndPersist(ctx context.Context, keyFields, commonFields, exceptFields ident.Fields, gap manifest.Interval, fetch Fetcher) error {
	fetchStart := time.Now()
	batch, err := fetch(ctx, keyFields, commonFields, exceptFields, gap.Start, gap.End)
	obsmetrics.ObserveFetch(c.tableName, time.Since(fetchStart).Seconds(), err)
	if err != nil {
		return cacheerr.FetcherFailure("fetcher failed for "+c.tableName, err)
	}
	if batch == nil || batch.Empty() {
		c.log.WithField("start", gap.Start).WithField("end", gap.End).Debug("empty fetch, manifest not advanced")
		return nil
	}
	if !batch.HasColumn(DateColumn) {
		return cacheerr.Configuration("fetched batch for "+c.tableName+" has no date column", nil)
	}
	for _, name := range keyFields.Names() {
		if batch.HasColumn(name) {
			return cacheerr.Configuration(fmt.Sprintf("fetched batch for %s reuses reserved key column %q", c.tableName, name), nil)
		}
	}

	frameTypes := make(map[string]codec.LogicalType, len(batch.Columns()))
	for _, col := range batch.Columns() {
		frameTypes[col] = batch.Type(col)
	}

	decl := schema.InferFrameSchema(c.tableName, keyFields, batch.Columns(), frameTypes)
	if err := c.schema.EnsureTable(ctx, decl); err != nil {
		return err
	}
	if err := c.schema.ReconcileColumns(ctx, c.tableName, batch.Columns(), frameTypes); err != nil {
		return err
	}

	projected := projectKeyFields(batch, keyFields)
	projected.DeduplicateByColumns(append(append([]string(nil), keyFields.Names()...), DateColumn))
	if err := c.bulkInsert(ctx, projected, decl.Types); err != nil {
		return err
	}

	maxDate, ok := projected.MaxTimestamp(DateColumn)
	if !ok {
		return cacheerr.Inconsistency("fetched batch for "+c.tableName+" has a date column but no time.Time values", nil)
	}
	observedEnd := maxDate.UTC().UnixMicro() + 1
	return c.manifest.AddInterval(ctx, keyFields, gap.Start, observedEnd)
}

// projectKeyFields inserts keyFields' values into batch, in place, as
// leading columns in keyFields order, and returns batch (SPEC_FULL.md
// §4.5 step 3).
func projectKeyFields(batch *frame.Frame, keyFields ident.Fields) *frame.Frame {
	names := keyFields.Names()
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		v, _ := keyFields.Get(name)
		batch.InsertColumnFront(name, codec.InferLogicalType(v), v)
	}
	return batch
}

func (c *Cache) bulkInsert(ctx context.Context, batch *frame.Frame, types map[string]codec.LogicalType) error {
	cols := batch.Columns()
	return c.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		placeholders := make([]string, len(cols))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
			ident.Quote(c.tableName), strings.Join(quoteNames(cols), ", "), strings.Join(placeholders, ", "))

		for i := 0; i < batch.Len(); i++ {
			row := batch.Row(i)
			args := make([]any, len(cols))
			for j, col := range cols {
				res, err := codec.Encode(types[col], row[col])
				if err != nil {
					return cacheerr.StorageFailure("encoding column "+col, err)
				}
				args[j] = res.Value
			}
			if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
				return cacheerr.StorageFailure("inserting range row", err)
			}
		}
		return nil
	})
}

func (c *Cache) assemble(ctx context.Context, keyFields ident.Fields, start, end int64) (*frame.Frame, error) {
	info, err := c.schema.GetTableInfo(ctx, c.tableName)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return frame.New(nil, nil), nil
	}

	cols := sortedColumns(info.Columns)
	types := info.Columns

	var out *frame.Frame
	err = c.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		where, args := whereClause(keyFields)
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s >= ? AND %s < ?`,
			strings.Join(quoteNames(cols), ", "), ident.Quote(c.tableName), ident.Quote(DateColumn), ident.Quote(DateColumn))
		if where != "" {
			query += " AND " + where
		}
		query += fmt.Sprintf(" ORDER BY %s", ident.Quote(DateColumn))
		args = append([]any{start, end}, args...)

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return cacheerr.StorageFailure("reading range assembly", err)
		}
		defer rows.Close()

		out = frame.New(cols, types)
		for rows.Next() {
			raw := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range raw {
				ptrs[i] = &raw[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return cacheerr.StorageFailure("scanning range row", err)
			}
			values := make(map[string]any, len(cols))
			for i, col := range cols {
				decoded, err := codec.Decode(types[col], raw[i], time.UTC)
				if err != nil {
					return cacheerr.StorageFailure("decoding column "+col, err)
				}
				values[col] = decoded
			}
			out.AppendRow(values)
		}
		return rows.Err()
	})
	return out, err
}

func sortedColumns(cols map[string]codec.LogicalType) []string {
	out := make([]string, 0, len(cols))
	for name := range cols {
		out = append(out, name)
	}
	sort.Strings(out)
	for i, name := range out {
		if name == DateColumn {
			out[0], out[i] = out[i], out[0]
			break
		}
	}
	return out
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
		res, err := codec.Encode(codec.InferLogicalType(v), v)
		if err != nil {
			args = append(args, v)
			continue
		}
		args = append(args, res.Value)
	}
	return sb.String(), args
}

func quoteNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident.Quote(n)
	}
	return out
}
