// Package manifest implements the interval manifest (component C3):
// per logical dataset, a set of disjoint half-open intervals [s, e)
// over the time axis, supporting coalescing insert, missing-interval
// query, and listing. This is the anti-redundant-fetch core of the
// cache: once a sub-range is recorded here, it is no longer reported
// as missing, even if the provider returned zero rows within it. A
// coalesced range-cache fetch that spans several gaps still covers
// the recorded sub-ranges between them.
package manifest

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fincache/fincache/internal/cacheerr"
	"github.com/fincache/fincache/internal/codec"
	"github.com/fincache/fincache/internal/ident"
	"github.com/fincache/fincache/internal/store"
)

// Interval is a half-open range [Start, End) of UTC microseconds since
// epoch.
type Interval struct {
	Start int64
	End   int64
}

// Manifest manages the intervals_{table} side table for one range
// dataset. A Manifest is stateless beyond its table name and key field
// declaration; all durable state lives in the pool's sqlite file.
type Manifest struct {
	pool       *store.Pool
	tableName  string // "intervals_{data table name}"
	keyColumns []string
	keyTypes   map[string]codec.LogicalType
	log        *log.Entry
}

// New returns a Manifest bound to dataTableName's interval side table.
// keyColumns gives the ordered key field names and their logical
// types, used to type the manifest table's key columns.
func New(pool *store.Pool, dataTableName string, keyColumns []string, keyTypes map[string]codec.LogicalType) *Manifest {
	return &Manifest{
		pool:       pool,
		tableName:  "intervals_" + dataTableName,
		keyColumns: append([]string(nil), keyColumns...),
		keyTypes:   keyTypes,
		log:        log.WithField("component", "manifest").WithField("table", "intervals_"+dataTableName),
	}
}

// TableName returns the physical name of the intervals side table.
func (m *Manifest) TableName() string { return m.tableName }

func (m *Manifest) ensureSchema(ctx context.Context, q store.Querier) error {
	var cols strings.Builder
	for _, name := range m.keyColumns {
		fmt.Fprintf(&cols, "%s %s NOT NULL,\n", ident.Quote(name), codec.NativeSQLType(m.keyTypes[name]))
	}
	quotedKeys := quoteNames(m.keyColumns)
	keyList := strings.Join(quotedKeys, ", ")

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		%s
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL
	)`, ident.Quote(m.tableName), cols.String())

	if _, err := q.ExecContext(ctx, schema); err != nil {
		return cacheerr.StorageFailure("creating intervals table", err)
	}

	if len(m.keyColumns) > 0 {
		startIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s, start_ts)`,
			ident.Quote("idx_"+m.tableName+"_start"), ident.Quote(m.tableName), keyList)
		endIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s, end_ts)`,
			ident.Quote("idx_"+m.tableName+"_end"), ident.Quote(m.tableName), keyList)
		if _, err := q.ExecContext(ctx, startIdx); err != nil {
			return cacheerr.StorageFailure("creating start index", err)
		}
		if _, err := q.ExecContext(ctx, endIdx); err != nil {
			return cacheerr.StorageFailure("creating end index", err)
		}
	} else {
		startIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (start_ts)`,
			ident.Quote("idx_"+m.tableName+"_start"), ident.Quote(m.tableName))
		endIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (end_ts)`,
			ident.Quote("idx_"+m.tableName+"_end"), ident.Quote(m.tableName))
		if _, err := q.ExecContext(ctx, startIdx); err != nil {
			return cacheerr.StorageFailure("creating start index", err)
		}
		if _, err := q.ExecContext(ctx, endIdx); err != nil {
			return cacheerr.StorageFailure("creating end index", err)
		}
	}
	return nil
}

func quoteNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident.Quote(n)
	}
	return out
}

func (m *Manifest) whereClause(keyFields ident.Fields) (string, []any) {
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

// AddInterval performs the coalescing insert described in
// SPEC_FULL.md §4.3: any insert whose [s, e) touches or overlaps one
// or more existing intervals for keyFields replaces them with their
// union. e <= s is a no-op (the original caller has nothing to
// record).
func (m *Manifest) AddInterval(ctx context.Context, keyFields ident.Fields, s, e int64) error {
	if e <= s {
		return nil
	}

	return m.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := m.ensureSchema(ctx, q); err != nil {
			return err
		}

		where, args := m.whereClause(keyFields)
		query := fmt.Sprintf(`SELECT id, start_ts, end_ts FROM %s`, ident.Quote(m.tableName))
		if where != "" {
			query += " WHERE " + where + " AND end_ts >= ? AND start_ts <= ?"
		} else {
			query += " WHERE end_ts >= ? AND start_ts <= ?"
		}
		args = append(args, s, e)

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return cacheerr.StorageFailure("selecting overlapping intervals", err)
		}

		S, E := s, e
		var ids []int64
		for rows.Next() {
			var id, rs, re int64
			if err := rows.Scan(&id, &rs, &re); err != nil {
				rows.Close()
				return cacheerr.StorageFailure("scanning overlapping interval", err)
			}
			if re <= rs {
				rows.Close()
				return cacheerr.Inconsistency(fmt.Sprintf("manifest row %d has end_ts <= start_ts", id), nil)
			}
			ids = append(ids, id)
			if rs < S {
				S = rs
			}
			if re > E {
				E = re
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return cacheerr.StorageFailure("iterating overlapping intervals", err)
		}
		rows.Close()

		if len(ids) > 0 {
			placeholders := make([]string, len(ids))
			delArgs := make([]any, len(ids))
			for i, id := range ids {
				placeholders[i] = "?"
				delArgs[i] = id
			}
			del := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, ident.Quote(m.tableName), strings.Join(placeholders, ","))
			if _, err := q.ExecContext(ctx, del, delArgs...); err != nil {
				return cacheerr.StorageFailure("deleting overlapping intervals", err)
			}
		}

		insCols := append(append([]string(nil), m.keyColumns...), "start_ts", "end_ts")
		placeholders := make([]string, len(insCols))
		insArgs := make([]any, 0, len(insCols))
		for _, name := range m.keyColumns {
			v, _ := keyFields.Get(name)
			insArgs = append(insArgs, encodeKeyValue(v))
		}
		insArgs = append(insArgs, S, E)
		for i := range placeholders {
			placeholders[i] = "?"
		}

		ins := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			ident.Quote(m.tableName), strings.Join(quoteNames(insCols), ", "), strings.Join(placeholders, ", "))
		if _, err := q.ExecContext(ctx, ins, insArgs...); err != nil {
			return cacheerr.StorageFailure("inserting merged interval", err)
		}

		m.log.WithField("start", S).WithField("end", E).Debug("coalesced interval")
		return nil
	})
}

// GetMissing returns the sub-ranges of [qs, qe) that are not covered
// by any interval currently recorded for keyFields, per the sweep
// algorithm in SPEC_FULL.md §4.3. qe <= qs returns no missing ranges.
func (m *Manifest) GetMissing(ctx context.Context, keyFields ident.Fields, qs, qe int64) ([]Interval, error) {
	if qe <= qs {
		return nil, nil
	}

	var result []Interval
	err := m.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := m.ensureSchema(ctx, q); err != nil {
			return err
		}

		where, args := m.whereClause(keyFields)
		query := fmt.Sprintf(`SELECT start_ts, end_ts FROM %s`, ident.Quote(m.tableName))
		if where != "" {
			query += " WHERE " + where + " AND end_ts > ? AND start_ts < ? ORDER BY start_ts"
		} else {
			query += " WHERE end_ts > ? AND start_ts < ? ORDER BY start_ts"
		}
		args = append(args, qs, qe)

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return cacheerr.StorageFailure("selecting intervals for missing sweep", err)
		}
		defer rows.Close()

		p := qs
		for rows.Next() {
			var s, e int64
			if err := rows.Scan(&s, &e); err != nil {
				return cacheerr.StorageFailure("scanning interval", err)
			}
			if e <= p {
				return cacheerr.Inconsistency("manifest row is non-monotonic during sweep", nil)
			}
			if s > p {
				result = append(result, Interval{Start: p, End: s})
			}
			p = e
			if p >= qe {
				break
			}
		}
		if err := rows.Err(); err != nil {
			return cacheerr.StorageFailure("iterating intervals for missing sweep", err)
		}
		if p < qe {
			result = append(result, Interval{Start: p, End: qe})
		}
		return nil
	})
	return result, err
}

// ListAll returns every cached interval recorded for keyFields, in
// ascending start order.
func (m *Manifest) ListAll(ctx context.Context, keyFields ident.Fields) ([]Interval, error) {
	var result []Interval
	err := m.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := m.ensureSchema(ctx, q); err != nil {
			return err
		}

		where, args := m.whereClause(keyFields)
		query := fmt.Sprintf(`SELECT start_ts, end_ts FROM %s`, ident.Quote(m.tableName))
		if where != "" {
			query += " WHERE " + where
		}
		query += " ORDER BY start_ts"

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return cacheerr.StorageFailure("listing intervals", err)
		}
		defer rows.Close()

		for rows.Next() {
			var s, e int64
			if err := rows.Scan(&s, &e); err != nil {
				return cacheerr.StorageFailure("scanning interval", err)
			}
			result = append(result, Interval{Start: s, End: e})
		}
		return rows.Err()
	})
	return result, err
}
