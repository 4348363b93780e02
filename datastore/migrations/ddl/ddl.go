// Package ddl describes schema changes as ordered lists of tagged operations and
// renders them into PostgreSQL statements.
package ddl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v4"
)

var (
	// ErrEmptyIdentifier is returned when a table, column or constraint name is missing.
	ErrEmptyIdentifier = errors.New("empty identifier")
	// ErrNestedOperation is returned when an AlterTable batch contains an operation that can not be part of it.
	ErrNestedOperation = errors.New("operation not allowed inside alter table batch")
	// ErrTableMismatch is returned when an operation inside an AlterTable batch targets another table.
	ErrTableMismatch = errors.New("operation targets a different table than its batch")
)

var simpleIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Type is a column data type.
type Type struct {
	Name   string
	Length int
}

func (t Type) String() string {
	if t.Length > 0 {
		return fmt.Sprintf("%s(%d)", t.Name, t.Length)
	}
	return t.Name
}

// String returns a variable length character type limited to n characters.
func String(n int) Type { return Type{Name: "VARCHAR", Length: n} }

// Text returns an unlimited length character type.
func Text() Type { return Type{Name: "TEXT"} }

// Integer returns a 4 byte integer type.
func Integer() Type { return Type{Name: "INTEGER"} }

// Serial returns an auto incrementing 4 byte integer type.
func Serial() Type { return Type{Name: "SERIAL"} }

// Boolean returns a boolean type.
func Boolean() Type { return Type{Name: "BOOLEAN"} }

// Timestamp returns a timestamp type without time zone.
func Timestamp() Type { return Type{Name: "TIMESTAMP WITHOUT TIME ZONE"} }

// Column is the definition of a table column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
	// Default is a SQL expression. An empty string means no default.
	Default    string
	PrimaryKey bool
	Unique     bool
}

// ForeignKey is a referential integrity rule from Table.Columns to RefTable.RefColumns.
type ForeignKey struct {
	Name       string
	Table      string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// ConstraintKind identifies the kind of constraint being dropped.
type ConstraintKind string

const ConstraintForeignKey ConstraintKind = "foreignkey"

// Operation is a single schema change. The set of implementations is closed.
type Operation interface {
	operation()
}

// CreateTable creates a new table.
type CreateTable struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// DropTable drops an existing table.
type DropTable struct {
	Name string
}

// AddColumn adds a column to an existing table.
type AddColumn struct {
	Table  string
	Column Column
}

// DropColumn drops a column from an existing table.
type DropColumn struct {
	Table  string
	Column string
}

// AddForeignKey creates a named foreign key constraint.
type AddForeignKey struct {
	ForeignKey
}

// DropConstraint drops a named constraint.
type DropConstraint struct {
	Table string
	Name  string
	Kind  ConstraintKind
}

// AlterTable groups operations on a single table into one statement. Nested operations may leave their
// table empty, in which case Table is assumed.
type AlterTable struct {
	Table string
	Ops   []Operation
}

func (CreateTable) operation()    {}
func (DropTable) operation()      {}
func (AddColumn) operation()      {}
func (DropColumn) operation()     {}
func (AddForeignKey) operation()  {}
func (DropConstraint) operation() {}
func (AlterTable) operation()     {}

// RenderAll renders every operation into a statement, preserving order.
func RenderAll(ops []Operation) ([]string, error) {
	stmts := make([]string, 0, len(ops))
	for i, op := range ops {
		s, err := Render(op)
		if err != nil {
			return nil, fmt.Errorf("rendering operation %d (%T): %w", i, op, err)
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// Render renders a single operation into a PostgreSQL statement.
func Render(op Operation) (string, error) {
	switch o := op.(type) {
	case CreateTable:
		return renderCreateTable(o)
	case DropTable:
		name, err := ident(o.Name)
		if err != nil {
			return "", err
		}
		return "DROP TABLE " + name, nil
	case AlterTable:
		return renderAlterTable(o)
	case AddColumn, DropColumn, AddForeignKey, DropConstraint:
		table, err := tableOf(o)
		if err != nil {
			return "", err
		}
		return renderAlterTable(AlterTable{Table: table, Ops: []Operation{o}})
	default:
		return "", fmt.Errorf("unknown operation type %T", op)
	}
}

func renderCreateTable(o CreateTable) (string, error) {
	name, err := ident(o.Name)
	if err != nil {
		return "", err
	}
	if len(o.Columns) == 0 {
		return "", fmt.Errorf("table %q has no columns", o.Name)
	}

	defs := make([]string, 0, len(o.Columns)+len(o.ForeignKeys))
	for _, c := range o.Columns {
		d, err := columnDef(c)
		if err != nil {
			return "", err
		}
		defs = append(defs, d)
	}
	for _, fk := range o.ForeignKeys {
		if fk.Table != "" && fk.Table != o.Name {
			return "", fmt.Errorf("foreign key %q: %w", fk.Name, ErrTableMismatch)
		}
		d, err := foreignKeyDef(fk)
		if err != nil {
			return "", err
		}
		defs = append(defs, d)
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", ")), nil
}

func renderAlterTable(o AlterTable) (string, error) {
	table, err := ident(o.Table)
	if err != nil {
		return "", err
	}
	if len(o.Ops) == 0 {
		return "", fmt.Errorf("alter table %q has no operations", o.Table)
	}

	actions := make([]string, 0, len(o.Ops))
	for _, op := range o.Ops {
		t, err := tableOf(op)
		if err != nil {
			return "", err
		}
		if t != "" && t != o.Table {
			return "", fmt.Errorf("%T on %q: %w", op, t, ErrTableMismatch)
		}

		var a string
		switch n := op.(type) {
		case AddColumn:
			d, err := columnDef(n.Column)
			if err != nil {
				return "", err
			}
			a = "ADD COLUMN " + d
		case DropColumn:
			c, err := ident(n.Column)
			if err != nil {
				return "", err
			}
			a = "DROP COLUMN " + c
		case AddForeignKey:
			d, err := foreignKeyDef(n.ForeignKey)
			if err != nil {
				return "", err
			}
			a = "ADD " + d
		case DropConstraint:
			c, err := ident(n.Name)
			if err != nil {
				return "", err
			}
			a = "DROP CONSTRAINT " + c
		}
		actions = append(actions, a)
	}

	return fmt.Sprintf("ALTER TABLE %s %s", table, strings.Join(actions, ", ")), nil
}

// tableOf returns the table targeted by an operation that can be part of an AlterTable batch.
func tableOf(op Operation) (string, error) {
	switch o := op.(type) {
	case AddColumn:
		return o.Table, nil
	case DropColumn:
		return o.Table, nil
	case AddForeignKey:
		return o.Table, nil
	case DropConstraint:
		return o.Table, nil
	default:
		return "", fmt.Errorf("%T: %w", op, ErrNestedOperation)
	}
}

func columnDef(c Column) (string, error) {
	name, err := ident(c.Name)
	if err != nil {
		return "", err
	}
	if c.Type.Name == "" {
		return "", fmt.Errorf("column %q has no type", c.Name)
	}

	parts := []string{name, c.Type.String()}
	switch {
	case c.PrimaryKey:
		parts = append(parts, "PRIMARY KEY")
	case !c.Nullable:
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.Unique {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), nil
}

func foreignKeyDef(fk ForeignKey) (string, error) {
	name, err := ident(fk.Name)
	if err != nil {
		return "", err
	}
	ref, err := ident(fk.RefTable)
	if err != nil {
		return "", err
	}
	if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
		return "", fmt.Errorf("foreign key %q: column count mismatch (%d != %d)", fk.Name, len(fk.Columns), len(fk.RefColumns))
	}
	cols, err := identList(fk.Columns)
	if err != nil {
		return "", err
	}
	refCols, err := identList(fk.RefColumns)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)", name, cols, ref, refCols), nil
}

func identList(names []string) (string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		s, err := ident(n)
		if err != nil {
			return "", err
		}
		out[i] = s
	}
	return strings.Join(out, ", "), nil
}

// ident returns the name as is when it is a plain lower case identifier and quotes it otherwise.
func ident(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyIdentifier
	}
	if simpleIdentifier.MatchString(name) {
		return name, nil
	}
	return pgx.Identifier{name}.Sanitize(), nil
}
