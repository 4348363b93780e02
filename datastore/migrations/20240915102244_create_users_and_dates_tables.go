package migrations

import (
	"time"

	"github.com/clinicapp/clinic/datastore/migrations/ddl"
	migrate "github.com/rubenv/sql-migrate"
)

func init() {
	m := &Migration{
		Migration: &migrate.Migration{
			Id: "20240915102244_create_users_and_dates_tables",
		},
		Revision:  "c2f0c1583911",
		CreatedAt: time.Date(2024, 9, 15, 10, 22, 44, 0, time.UTC),
		UpOps: []ddl.Operation{
			ddl.CreateTable{
				Name: "users",
				Columns: []ddl.Column{
					{Name: "id", Type: ddl.Serial(), PrimaryKey: true},
					{Name: "name", Type: ddl.String(100)},
					{Name: "last_name", Type: ddl.String(100), Nullable: true},
					{Name: "email", Type: ddl.String(120), Unique: true},
					{Name: "password", Type: ddl.String(256)},
					{Name: "speciality", Type: ddl.String(100), Nullable: true},
					{Name: "document_type", Type: ddl.String(20), Nullable: true},
					{Name: "document_number", Type: ddl.String(40), Nullable: true},
					{Name: "address", Type: ddl.String(200), Nullable: true},
					{Name: "phone", Type: ddl.String(40), Nullable: true},
					{Name: "role", Type: ddl.String(20), Default: "'patient'"},
					{Name: "is_active", Type: ddl.Boolean(), Default: "true"},
				},
			},
			ddl.CreateTable{
				Name: "dates",
				Columns: []ddl.Column{
					{Name: "id", Type: ddl.Serial(), PrimaryKey: true},
					{Name: "speciality", Type: ddl.String(100), Nullable: true},
					{Name: "doctor_id", Type: ddl.Integer()},
					{Name: "datetime", Type: ddl.Timestamp()},
					{Name: "reason_for_appointment", Type: ddl.Text(), Nullable: true},
					{Name: "date_type", Type: ddl.String(50), Nullable: true},
					{Name: "user_id", Type: ddl.Integer(), Nullable: true},
				},
				ForeignKeys: []ddl.ForeignKey{
					{
						Name:       "dates_doctor_id_fkey",
						Columns:    []string{"doctor_id"},
						RefTable:   "users",
						RefColumns: []string{"id"},
					},
					{
						Name:       "dates_user_id_fkey",
						Columns:    []string{"user_id"},
						RefTable:   "users",
						RefColumns: []string{"id"},
					},
				},
			},
		},
		DownOps: []ddl.Operation{
			ddl.DropTable{Name: "dates"},
			ddl.DropTable{Name: "users"},
		},
		PostDeployment: false,
	}

	allMigrations = append(allMigrations, m)
}
