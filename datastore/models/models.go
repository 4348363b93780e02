package models

import "database/sql"

// Column is a column of a table as reported by the database catalog.
type Column struct {
	Table     string
	Name      string
	DataType  string
	MaxLength sql.NullInt64
	Nullable  bool
	Default   sql.NullString
}

// Columns is a slice of Column pointers.
type Columns []*Column

// ByName returns the column with the given name or nil if not found.
func (cc Columns) ByName(name string) *Column {
	for _, c := range cc {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ForeignKey is a foreign key constraint as reported by the database catalog.
type ForeignKey struct {
	Name       string
	Table      string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// ForeignKeys is a slice of ForeignKey pointers.
type ForeignKeys []*ForeignKey

// ByName returns the foreign key with the given name or nil if not found.
func (ff ForeignKeys) ByName(name string) *ForeignKey {
	for _, f := range ff {
		if f.Name == name {
			return f
		}
	}
	return nil
}
