package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicapp/clinic/datastore/metrics"
	"github.com/clinicapp/clinic/datastore/models"
	"github.com/jackc/pgx/v4"
)

// SchemaReader is the interface that defines read operations on the database schema.
type SchemaReader interface {
	TableExists(ctx context.Context, table string) (bool, error)
	HasRows(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) (models.Columns, error)
	ForeignKeys(ctx context.Context, table string) (models.ForeignKeys, error)
}

// inspector is the concrete implementation of a SchemaReader.
type inspector struct {
	// db can be either a *sql.DB or *sql.Tx
	db Queryer
}

// NewInspector builds a new schema inspector.
func NewInspector(db Queryer) *inspector {
	return &inspector{db: db}
}

// TableExists checks if a table exists in the current schema.
func (i *inspector) TableExists(ctx context.Context, table string) (bool, error) {
	defer metrics.InstrumentQuery("schema_table_exists")()
	q := `SELECT
			EXISTS (
				SELECT
					1
				FROM
					information_schema.tables
				WHERE
					table_schema = current_schema()
					AND table_name = $1)`

	var exists bool
	if err := i.db.QueryRowContext(ctx, q, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking if table exists: %w", err)
	}

	return exists, nil
}

// HasRows checks if a table has at least one row.
func (i *inspector) HasRows(ctx context.Context, table string) (bool, error) {
	defer metrics.InstrumentQuery("schema_table_has_rows")()
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s LIMIT 1)", pgx.Identifier{table}.Sanitize())

	var exists bool
	if err := i.db.QueryRowContext(ctx, q).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking if table has rows: %w", err)
	}

	return exists, nil
}

// Columns lists the columns of a table in ordinal order.
func (i *inspector) Columns(ctx context.Context, table string) (models.Columns, error) {
	defer metrics.InstrumentQuery("schema_columns")()
	q := `SELECT
			column_name,
			data_type,
			character_maximum_length,
			is_nullable,
			column_default
		FROM
			information_schema.columns
		WHERE
			table_schema = current_schema()
			AND table_name = $1
		ORDER BY
			ordinal_position`

	rows, err := i.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("finding columns: %w", err)
	}
	defer rows.Close()

	cc := make(models.Columns, 0)
	for rows.Next() {
		c := &models.Column{Table: table}
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &nullable, &c.Default); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.Nullable = nullable == "YES"
		cc = append(cc, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning columns: %w", err)
	}

	return cc, nil
}

// ForeignKeys lists the foreign key constraints whose source is the given table, sorted by name.
func (i *inspector) ForeignKeys(ctx context.Context, table string) (models.ForeignKeys, error) {
	defer metrics.InstrumentQuery("schema_foreign_keys")()
	q := `SELECT
			c.conname,
			src.relname,
			a.attname,
			ref.relname,
			ra.attname
		FROM
			pg_catalog.pg_constraint AS c
			JOIN pg_catalog.pg_class AS src ON src.oid = c.conrelid
			JOIN pg_catalog.pg_class AS ref ON ref.oid = c.confrelid
			CROSS JOIN LATERAL unnest(c.conkey, c.confkey)
			WITH ORDINALITY AS k (attnum, refattnum, n)
			JOIN pg_catalog.pg_attribute AS a ON a.attrelid = c.conrelid
				AND a.attnum = k.attnum
			JOIN pg_catalog.pg_attribute AS ra ON ra.attrelid = c.confrelid
				AND ra.attnum = k.refattnum
		WHERE
			c.contype = 'f'
			AND c.conrelid = to_regclass($1)
		ORDER BY
			c.conname,
			k.n`

	rows, err := i.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("finding foreign keys: %w", err)
	}
	defer rows.Close()

	ff := make(models.ForeignKeys, 0)
	var last *models.ForeignKey
	for rows.Next() {
		var name, src, col, ref, refCol string
		if err := rows.Scan(&name, &src, &col, &ref, &refCol); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		if last == nil || last.Name != name {
			last = &models.ForeignKey{Name: name, Table: src, RefTable: ref}
			ff = append(ff, last)
		}
		last.Columns = append(last.Columns, col)
		last.RefColumns = append(last.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning foreign keys: %w", err)
	}

	return ff, nil
}

var _ Queryer = (*sql.DB)(nil)
var _ Queryer = (*sql.Tx)(nil)
