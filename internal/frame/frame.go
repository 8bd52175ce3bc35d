// Package frame implements a minimal Go-native columnar tabular batch,
// standing in for the source implementation's pandas DataFrame. It
// carries exactly what the range cache (C5) needs: named, typed
// columns and row-major access for encoding and iteration.
package frame

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/fincache/fincache/internal/codec"
)

// Frame is a tabular batch: an ordered set of named, logically-typed
// columns, stored column-major, with row-major helpers for the
// row-at-a-time operations the cache needs (key projection, encoding,
// assembly).
type Frame struct {
	names   []string
	types   map[string]codec.LogicalType
	columns map[string][]any
	rows    int
}

// New builds an empty Frame with the given column names and logical
// types, in the given column order. names and types must agree on
// membership.
func New(names []string, types map[string]codec.LogicalType) *Frame {
	f := &Frame{
		names:   append([]string(nil), names...),
		types:   make(map[string]codec.LogicalType, len(names)),
		columns: make(map[string][]any, len(names)),
	}
	for _, n := range names {
		f.types[n] = types[n]
		f.columns[n] = nil
	}
	return f
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return append([]string(nil), f.names...) }

// HasColumn reports whether name is a column of f.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// Type returns the logical type declared for a column.
func (f *Frame) Type(name string) codec.LogicalType { return f.types[name] }

// Len returns the number of rows.
func (f *Frame) Len() int { return f.rows }

// Empty reports whether the frame has zero rows.
func (f *Frame) Empty() bool { return f.rows == 0 }

// AppendRow appends one row. Missing columns are stored as nil.
func (f *Frame) AppendRow(values map[string]any) {
	for _, n := range f.names {
		f.columns[n] = append(f.columns[n], values[n])
	}
	f.rows++
}

// Column returns the raw values of a column, in row order.
func (f *Frame) Column(name string) []any { return f.columns[name] }

// Row returns row i as a name->value map.
func (f *Frame) Row(i int) map[string]any {
	out := make(map[string]any, len(f.names))
	for _, n := range f.names {
		out[n] = f.columns[n][i]
	}
	return out
}

// InsertColumnFront adds a new leading column, constant across every
// existing row, and shifts the other column names right. This is how
// the range cache projects key-field values into a provider's
// returned batch before persisting it (SPEC_FULL.md §4.5 step 3).
func (f *Frame) InsertColumnFront(name string, typ codec.LogicalType, value any) {
	col := make([]any, f.rows)
	for i := range col {
		col[i] = value
	}
	f.columns[name] = col
	f.types[name] = typ
	f.names = append([]string{name}, f.names...)
}

// SortByTimestampColumn stably reorders all rows by the time.Time
// values of column name, ascending. The column is expected to hold
// time.Time values in-memory; callers sort before encoding.
func (f *Frame) SortByTimestampColumn(name string) error {
	if !f.HasColumn(name) {
		return errors.Errorf("frame has no column %q", name)
	}
	col := f.columns[name]
	idx := make([]int, f.rows)
	for i := range idx {
		idx[i] = i
	}
	less := func(i, j int) bool {
		a, aok := col[idx[i]].(time.Time)
		b, bok := col[idx[j]].(time.Time)
		if !aok || !bok {
			return false
		}
		return a.Before(b)
	}
	sort.SliceStable(idx, less)
	newColumns := make(map[string][]any, len(f.names))
	for _, n := range f.names {
		src := f.columns[n]
		dst := make([]any, f.rows)
		for newPos, oldPos := range idx {
			dst[newPos] = src[oldPos]
		}
		newColumns[n] = dst
	}
	f.columns = newColumns
	return nil
}

// MaxTimestamp returns the maximum value of a timestamp column, used
// by the range cache to advance the manifest to the observed data
// extent rather than the requested end (SPEC_FULL.md §4.5 step 5). ok
// is false for an empty frame or a column with no time.Time values.
func (f *Frame) MaxTimestamp(name string) (max time.Time, ok bool) {
	col := f.columns[name]
	for _, v := range col {
		tv, isTime := v.(time.Time)
		if !isTime {
			continue
		}
		if !ok || tv.After(max) {
			max = tv
			ok = true
		}
	}
	return max, ok
}
