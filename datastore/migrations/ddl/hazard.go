package ddl

import "fmt"

// HazardKind identifies a condition under which an operation can only succeed on an empty table.
type HazardKind string

// HazardNotNullWithoutDefault is raised by adding a NOT NULL column with no default: existing rows would hold
// NULL, so the statement fails unless the table is empty or rows are backfilled first.
const HazardNotNullWithoutDefault HazardKind = "not_null_without_default"

// Hazard is a data dependent failure condition of an operation.
type Hazard struct {
	Kind   HazardKind
	Table  string
	Column string
}

func (h Hazard) String() string {
	return fmt.Sprintf("%s: %s.%s", h.Kind, h.Table, h.Column)
}

// Hazards reports the data dependent failure conditions of the given operations, in order. It only flags
// them, it does not rewrite the operations.
func Hazards(ops []Operation) []Hazard {
	var hh []Hazard
	for _, op := range ops {
		hh = append(hh, hazardsOf(op, "")...)
	}
	return hh
}

func hazardsOf(op Operation, batchTable string) []Hazard {
	switch o := op.(type) {
	case AddColumn:
		if o.Column.Nullable || o.Column.Default != "" || o.Column.Type == Serial() {
			return nil
		}
		table := o.Table
		if table == "" {
			table = batchTable
		}
		return []Hazard{{Kind: HazardNotNullWithoutDefault, Table: table, Column: o.Column.Name}}
	case AlterTable:
		var hh []Hazard
		for _, n := range o.Ops {
			hh = append(hh, hazardsOf(n, o.Table)...)
		}
		return hh
	default:
		return nil
	}
}
