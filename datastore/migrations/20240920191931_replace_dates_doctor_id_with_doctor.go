package migrations

import (
	"time"

	"github.com/clinicapp/clinic/datastore/migrations/ddl"
	migrate "github.com/rubenv/sql-migrate"
)

// The doctor column is NOT NULL without a default and no backfill is done in either direction, so this migration
// only applies to an empty dates table.
func init() {
	m := &Migration{
		Migration: &migrate.Migration{
			Id: "20240920191931_replace_dates_doctor_id_with_doctor",
		},
		Revision:     "fae1490331e3",
		DownRevision: "c2f0c1583911",
		CreatedAt:    time.Date(2024, 9, 20, 19, 19, 31, 150771000, time.UTC),
		UpOps: []ddl.Operation{
			ddl.AlterTable{
				Table: "dates",
				Ops: []ddl.Operation{
					ddl.AddColumn{Column: ddl.Column{Name: "doctor", Type: ddl.String(100)}},
					ddl.DropConstraint{Name: "dates_doctor_id_fkey", Kind: ddl.ConstraintForeignKey},
					ddl.DropColumn{Column: "doctor_id"},
				},
			},
		},
		DownOps: []ddl.Operation{
			ddl.AlterTable{
				Table: "dates",
				Ops: []ddl.Operation{
					ddl.AddColumn{Column: ddl.Column{Name: "doctor_id", Type: ddl.Integer()}},
					ddl.AddForeignKey{ForeignKey: ddl.ForeignKey{
						Name:       "dates_doctor_id_fkey",
						Columns:    []string{"doctor_id"},
						RefTable:   "users",
						RefColumns: []string{"id"},
					}},
					ddl.DropColumn{Column: "doctor"},
				},
			},
		},
		PostDeployment: false,
	}

	allMigrations = append(allMigrations, m)
}
