// Package ident provides safe identifiers for table and column names
// that are derived from caller-supplied strings. All dynamic SQL built
// by the cache core quotes identifiers through this package.
package ident

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// An Ident is an opaque, already-validated SQL identifier.
type Ident struct {
	raw string
}

// New wraps a raw identifier. It does not validate the identifier;
// validation happens at Quote time, where any embedded quote character
// is escaped rather than rejected, since table/column names are derived
// from caller data (e.g. a symbol string) that the cache does not own.
func New(raw string) Ident { return Ident{raw: raw} }

// Raw returns the unquoted identifier.
func (i Ident) Raw() string { return i.raw }

// String renders the identifier quoted for inclusion in a SQL statement.
func (i Ident) String() string { return Quote(i.raw) }

// IsEmpty reports whether the identifier carries no name.
func (i Ident) IsEmpty() bool { return i.raw == "" }

// Quote double-quotes a SQL identifier, doubling any embedded quote so
// that table and column names derived from user input can never break
// out of the identifier position.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// A Table names a physical table within the single-file store. Unlike
// the multi-schema identifiers of a distributed target database, a
// Table here is just a quoted name: the store is one file, one
// namespace.
type Table struct {
	Ident
}

// NewTable wraps a physical table name.
func NewTable(name string) Table { return Table{Ident: New(name)} }

// Fields is an insertion-ordered mapping from field name to scalar
// value. Ordering matters: the dataset hash in Table naming and the
// primary-key column order are both defined over insertion order, not
// lexical order, so a plain Go map (unordered) cannot stand in for it.
type Fields struct {
	names  []string
	values map[string]any
}

// NewFields builds an ordered Fields from names in the given order.
func NewFields(names []string, values map[string]any) Fields {
	f := Fields{names: append([]string(nil), names...), values: make(map[string]any, len(names))}
	for _, n := range names {
		f.values[n] = values[n]
	}
	return f
}

// Names returns the field names in insertion order.
func (f Fields) Names() []string { return f.names }

// Len returns the number of fields.
func (f Fields) Len() int { return len(f.names) }

// Get returns the value for name and whether it was present.
func (f Fields) Get(name string) (any, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Values returns the values in the same order as Names.
func (f Fields) Values() []any {
	out := make([]any, len(f.names))
	for i, n := range f.names {
		out[i] = f.values[n]
	}
	return out
}

// Map returns a copy of the underlying name->value mapping.
func (f Fields) Map() map[string]any {
	out := make(map[string]any, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// TableNameForDataset derives the physical table name for a dataset
// identified by (basename, commonFields): `"{basename}_{H}"`, where H
// is the hex-encoded SHA1 of commonFields' values, stringified and
// joined with "-", in insertion order. Two datasets with equal
// basename and equal common field values (in the same order) collide
// on the same physical table; any differing value produces a
// different table.
func TableNameForDataset(basename string, commonFields Fields) string {
	parts := make([]string, commonFields.Len())
	for i, v := range commonFields.Values() {
		parts[i] = fmt.Sprintf("%v", v)
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "-")))
	return basename + "_" + hex.EncodeToString(sum[:])
}

// With returns a new Fields with name=value appended, or replaced in
// place if name is already present.
func (f Fields) With(name string, value any) Fields {
	for _, n := range f.names {
		if n == name {
			nf := NewFields(f.names, f.Map())
			nf.values[name] = value
			return nf
		}
	}
	names := append(append([]string(nil), f.names...), name)
	values := f.Map()
	values[name] = value
	return NewFields(names, values)
}
