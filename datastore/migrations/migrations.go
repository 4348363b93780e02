package migrations

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clinicapp/clinic/datastore/migrations/ddl"
	migrate "github.com/rubenv/sql-migrate"
)

var allMigrations []*Migration

// Migration is a single revision of the database schema. The upgrade and downgrade procedures are either
// given as ordered lists of schema operations (UpOps/DownOps) or as raw SQL (Up/Down), never both.
type Migration struct {
	*migrate.Migration
	// Revision identifies this migration in the revision history.
	Revision string
	// DownRevision is the Revision of the parent migration. It is empty for the root of the history.
	DownRevision string
	CreatedAt    time.Time
	UpOps        []ddl.Operation
	DownOps      []ddl.Operation
	// PostDeployment migrations can be deferred until after a deployment is complete.
	PostDeployment bool
}

// Ops returns the schema operations of the procedure for the given direction.
func (m *Migration) Ops(direction migrate.MigrationDirection) []ddl.Operation {
	if direction == migrate.Down {
		return m.DownOps
	}
	return m.UpOps
}

// compile returns a copy of m in which the schema operations have been rendered into SQL statements.
func (m *Migration) compile() (*Migration, error) {
	if m.Migration == nil {
		return nil, errors.New("missing migration definition")
	}

	mm := *m.Migration
	c := *m
	c.Migration = &mm

	if len(m.UpOps) > 0 {
		if len(m.Up) > 0 {
			return nil, errors.New("both up operations and up statements are set")
		}
		up, err := ddl.RenderAll(m.UpOps)
		if err != nil {
			return nil, fmt.Errorf("compiling up operations: %w", err)
		}
		c.Up = up
	}
	if len(m.DownOps) > 0 {
		if len(m.Down) > 0 {
			return nil, errors.New("both down operations and down statements are set")
		}
		down, err := ddl.RenderAll(m.DownOps)
		if err != nil {
			return nil, fmt.Errorf("compiling down operations: %w", err)
		}
		c.Down = down
	}

	return &c, nil
}

// All returns all registered migrations, sorted by ID.
func All() []*Migration {
	mm := make([]*Migration, len(allMigrations))
	copy(mm, allMigrations)
	sortByID(mm)
	return mm
}

// NonPostDeployment returns all registered migrations that are not post deployment migrations, sorted by ID.
func NonPostDeployment() []*Migration {
	var mm []*Migration
	for _, m := range All() {
		if !m.PostDeployment {
			mm = append(mm, m)
		}
	}
	return mm
}

func sortByID(mm []*Migration) {
	sort.SliceStable(mm, func(i, j int) bool {
		a, b := mm[i].Migration, mm[j].Migration
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Less(b)
	})
}
