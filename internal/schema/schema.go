// Package schema implements the schema manager (component C2): schema
// inference from a sample record or tabular batch, lazy table
// creation, a shared sidecar catalog of per-column logical types, and
// additive column evolution. Per the re-architecting note in
// SPEC_FULL.md §4.2, schema inference is split from DDL application:
// InferPointSchema/InferFrameSchema are pure, EnsureTable and
// ReconcileColumns perform the actual CREATE/ALTER statements.
package schema

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

// catalogTable is the single sidecar table shared by every dataset in
// a store file.
const catalogTable = "dataset_columns"

// Decl is the pure, store-independent description of a table to
// create: its ordered columns and their logical types, plus which
// columns form the primary key.
type Decl struct {
	TableName  string
	Columns    []string
	Types      map[string]codec.LogicalType
	PrimaryKey []string
	// IsFrame marks a tabular (range-cache) dataset. A non-frame
	// (point-cache) dataset declares exactly one non-key column named
	// "data".
	IsFrame bool
}

// InferPointSchema builds the Decl for a point-cache table from a
// sample payload value: one column per key field, typed from its
// logical class, plus a "data" column typed from the sample.
func InferPointSchema(tableName string, keyFields ident.Fields, sample any) Decl {
	cols := append([]string(nil), keyFields.Names()...)
	cols = append(cols, "data")

	types := make(map[string]codec.LogicalType, len(cols))
	for _, name := range keyFields.Names() {
		v, _ := keyFields.Get(name)
		types[name] = codec.InferLogicalType(v)
	}
	types["data"] = codec.InferLogicalType(sample)

	return Decl{
		TableName:  tableName,
		Columns:    cols,
		Types:      types,
		PrimaryKey: append([]string(nil), keyFields.Names()...),
		IsFrame:    false,
	}
}

// InferFrameSchema builds the Decl for a range-cache table from a
// tabular batch's declared columns: key field columns, then the
// batch's own columns (which must include "date"), with the primary
// key being key fields followed by "date".
func InferFrameSchema(tableName string, keyFields ident.Fields, frameColumns []string, frameTypes map[string]codec.LogicalType) Decl {
	cols := append([]string(nil), keyFields.Names()...)
	cols = append(cols, frameColumns...)

	types := make(map[string]codec.LogicalType, len(cols))
	for _, name := range keyFields.Names() {
		v, _ := keyFields.Get(name)
		types[name] = codec.InferLogicalType(v)
	}
	for _, c := range frameColumns {
		types[c] = frameTypes[c]
	}

	return Decl{
		TableName:  tableName,
		Columns:    cols,
		Types:      types,
		PrimaryKey: append(append([]string(nil), keyFields.Names()...), "date"),
		IsFrame:    true,
	}
}

// Info describes what the catalog knows about an existing table.
type Info struct {
	Exists    bool
	IsFrame   bool
	PointType codec.LogicalType            // valid when !IsFrame
	Columns   map[string]codec.LogicalType // valid when IsFrame; all non-"data" columns
}

// Manager applies Decls to a store (DDL) and maintains the sidecar
// catalog. One Manager is safe for concurrent use against its Pool.
type Manager struct {
	pool *store.Pool
	log  *log.Entry
}

// New returns a schema Manager bound to pool.
func New(pool *store.Pool) *Manager {
	return &Manager{pool: pool, log: log.WithField("component", "schema")}
}

func (m *Manager) ensureCatalog(ctx context.Context, q store.Querier) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		logical_type TEXT NOT NULL,
		PRIMARY KEY (table_name, column_name)
	)`, ident.Quote(catalogTable)))
	if err != nil {
		return cacheerr.StorageFailure("creating sidecar catalog", err)
	}
	return nil
}

// GetTableInfo reads the sidecar catalog for tableName.
func (m *Manager) GetTableInfo(ctx context.Context, tableName string) (Info, error) {
	var info Info
	err := m.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := m.ensureCatalog(ctx, q); err != nil {
			return err
		}
		var err error
		info, err = m.readTableInfo(ctx, q, tableName)
		return err
	})
	return info, err
}

func (m *Manager) readTableInfo(ctx context.Context, q store.Querier, tableName string) (Info, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT column_name, logical_type FROM %s WHERE table_name = ?`, ident.Quote(catalogTable)), tableName)
	if err != nil {
		return Info{}, cacheerr.StorageFailure("reading sidecar catalog", err)
	}
	defer rows.Close()

	cols := make(map[string]codec.LogicalType)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return Info{}, cacheerr.StorageFailure("scanning sidecar catalog", err)
		}
		cols[name] = codec.LogicalType(typ)
	}
	if err := rows.Err(); err != nil {
		return Info{}, cacheerr.StorageFailure("iterating sidecar catalog", err)
	}

	dataType, hasData := cols["data"]
	if !hasData {
		return Info{Exists: len(cols) > 0}, nil
	}
	if dataType == codec.TypeFrame {
		nonData := make(map[string]codec.LogicalType, len(cols)-1)
		for name, typ := range cols {
			if name != "data" {
				nonData[name] = typ
			}
		}
		return Info{Exists: true, IsFrame: true, Columns: nonData}, nil
	}
	return Info{Exists: true, IsFrame: false, PointType: dataType}, nil
}

// EnsureTable creates the table named by decl if it is absent
// (CREATE TABLE IF NOT EXISTS with the declared columns and primary
// key), then upserts the sidecar catalog rows. It is a no-op if the
// table already exists and its catalog rows agree with decl; it
// returns a schema-conflict error if an existing column's logical
// type disagrees with decl. Columns of decl that an existing table
// lacks are left to ReconcileColumns.
func (m *Manager) EnsureTable(ctx context.Context, decl Decl) error {
	return m.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := m.ensureCatalog(ctx, q); err != nil {
			return err
		}

		existing, err := m.readTableInfo(ctx, q, decl.TableName)
		if err != nil {
			return err
		}
		if !existing.Exists {
			if err := m.createTable(ctx, q, decl); err != nil {
				return err
			}
		}
		return m.upsertCatalogRows(ctx, q, decl)
	})
}

func (m *Manager) createTable(ctx context.Context, q store.Querier, decl Decl) error {
	var cols []string
	for _, name := range decl.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", ident.Quote(name), codec.NativeSQLType(decl.Types[name])))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s", ident.Quote(decl.TableName), strings.Join(cols, ",\n"))
	if len(decl.PrimaryKey) > 0 {
		var pk []string
		for _, name := range decl.PrimaryKey {
			pk = append(pk, ident.Quote(name))
		}
		stmt += fmt.Sprintf(",\nPRIMARY KEY (%s)", strings.Join(pk, ", "))
	}
	stmt += "\n)"

	m.log.WithField("table", decl.TableName).Debug(stmt)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return cacheerr.StorageFailure("creating table "+decl.TableName, err)
	}
	return nil
}

func (m *Manager) upsertCatalogRows(ctx context.Context, q store.Querier, decl Decl) error {
	existing, err := m.readTableInfo(ctx, q, decl.TableName)
	if err != nil {
		return err
	}

	upsert := func(column string, typ codec.LogicalType) error {
		if existing.Exists {
			var current codec.LogicalType
			if column == "data" {
				if existing.IsFrame {
					current = codec.TypeFrame
				} else {
					current = existing.PointType
				}
			} else if t, ok := existing.Columns[column]; ok {
				current = t
			}
			if current != "" && current != typ {
				return cacheerr.SchemaConflict(fmt.Sprintf(
					"column %s.%s: catalog has %q, new value has %q", decl.TableName, column, current, typ), nil)
			}
			if current == typ {
				return nil // already recorded, nothing to do
			}
			if column != "data" {
				return nil // new column on an existing table: ReconcileColumns adds and records it
			}
		}
		_, err := q.ExecContext(ctx, fmt.Sprintf(
			`INSERT OR REPLACE INTO %s (table_name, column_name, logical_type) VALUES (?, ?, ?)`,
			ident.Quote(catalogTable)), decl.TableName, column, string(typ))
		if err != nil {
			return cacheerr.StorageFailure("upserting sidecar row", err)
		}
		return nil
	}

	if decl.IsFrame {
		if err := upsert("data", codec.TypeFrame); err != nil {
			return err
		}
		for _, name := range decl.Columns {
			if err := upsert(name, decl.Types[name]); err != nil {
				return err
			}
		}
	} else {
		if err := upsert("data", decl.Types["data"]); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileColumns adds any frame columns missing from an existing
// table via ALTER TABLE ADD COLUMN, and records their logical type in
// the sidecar catalog. It never removes a column and never changes an
// existing column's recorded type (EnsureTable's conflict check
// already guards that).
func (m *Manager) ReconcileColumns(ctx context.Context, tableName string, frameColumns []string, frameTypes map[string]codec.LogicalType) error {
	return m.pool.WithImmediateTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := m.ensureCatalog(ctx, q); err != nil {
			return err
		}
		existing, err := m.readTableInfo(ctx, q, tableName)
		if err != nil {
			return err
		}
		if !existing.Exists {
			return cacheerr.Configuration("reconcile requested on nonexistent table "+tableName, nil)
		}

		for _, col := range frameColumns {
			if _, ok := existing.Columns[col]; ok {
				continue
			}
			typ := frameTypes[col]
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
				ident.Quote(tableName), ident.Quote(col), codec.NativeSQLType(typ))
			if _, err := q.ExecContext(ctx, alter); err != nil {
				return cacheerr.StorageFailure("adding column "+col, err)
			}
			if _, err := q.ExecContext(ctx, fmt.Sprintf(
				`INSERT OR REPLACE INTO %s (table_name, column_name, logical_type) VALUES (?, ?, ?)`,
				ident.Quote(catalogTable)), tableName, col, string(typ)); err != nil {
				return cacheerr.StorageFailure("recording new column in sidecar", err)
			}
			existing.Columns[col] = typ
			m.log.WithField("table", tableName).WithField("column", col).Info("evolved schema: added column")
		}
		return nil
	})
}
