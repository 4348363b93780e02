package migrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinicapp/clinic/datastore"
	"github.com/clinicapp/clinic/datastore/migrations/ddl"
	migrate "github.com/rubenv/sql-migrate"
)

// ErrBackfillRequired is matched by BackfillRequiredError with errors.Is.
var ErrBackfillRequired = errors.New("backfill required")

// BackfillRequiredError is returned when a migration would add a NOT NULL column without a default to a table that
// already has rows. The migration is not applied. Existing rows must be backfilled, or the table emptied, by the
// operator.
type BackfillRequiredError struct {
	ID        string
	Revision  string
	Direction string
	Table     string
	Column    string
}

func (e *BackfillRequiredError) Error() string {
	return fmt.Sprintf("%s migration %s (revision %s) adds NOT NULL column %q without a default to non-empty table %q: %s",
		e.Direction, e.ID, e.Revision, e.Column, e.Table, ErrBackfillRequired)
}

func (e *BackfillRequiredError) Is(target error) bool {
	return target == ErrBackfillRequired
}

// checkBackfill refuses a migration whose operations in the given direction have a not-null hazard on a table that
// has rows. Tables that do not exist yet are skipped, the migration will fail on its own if they are still missing.
func (m *Migrator) checkBackfill(ctx context.Context, mig *Migration, direction migrate.MigrationDirection) error {
	hazards := ddl.Hazards(mig.Ops(direction))
	if len(hazards) == 0 {
		return nil
	}

	s := datastore.NewInspector(m.db)
	for _, h := range hazards {
		exists, err := s.TableExists(ctx, h.Table)
		if err != nil {
			return fmt.Errorf("preflight check of migration %s: %w", mig.Id, err)
		}
		if !exists {
			continue
		}

		hasRows, err := s.HasRows(ctx, h.Table)
		if err != nil {
			return fmt.Errorf("preflight check of migration %s: %w", mig.Id, err)
		}
		if hasRows {
			return &BackfillRequiredError{
				ID:        mig.Id,
				Revision:  mig.Revision,
				Direction: directionOf(direction).String(),
				Table:     h.Table,
				Column:    h.Column,
			}
		}
	}

	return nil
}
