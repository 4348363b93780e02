package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/clinicapp/clinic/datastore/migrations/metrics"
	"github.com/clinicapp/clinic/internal/feature"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

const (
	migrationTableName = "schema_migrations"
	dialect            = "postgres"

	// DefaultLockID is the key of the advisory lock taken while applying migrations.
	DefaultLockID int64 = 7_236_267_847_523_689_058
)

// Migrator applies and reverts schema migrations, tracking them in the schema_migrations table.
type Migrator struct {
	db                 *sql.DB
	migrations         []*Migration
	skipPostDeployment bool
	preflight          bool
	lock               bool
	lockID             int64
	logger             logrus.FieldLogger
	clock              clock.Clock
}

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// SkipPostDeployment configures the migrator to ignore post deployment migrations.
func SkipPostDeployment(m *Migrator) {
	m.skipPostDeployment = true
}

// WithoutLock disables the advisory lock.
func WithoutLock(m *Migrator) {
	m.lock = false
}

// WithLockID sets the key of the advisory lock.
func WithLockID(id int64) MigratorOption {
	return func(m *Migrator) {
		m.lockID = id
	}
}

// WithPreflight enables or disables the backfill check done before each migration.
func WithPreflight(enabled bool) MigratorOption {
	return func(m *Migrator) {
		m.preflight = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) MigratorOption {
	return func(m *Migrator) {
		m.logger = l
	}
}

// WithClock sets the clock used to time migrations.
func WithClock(c clock.Clock) MigratorOption {
	return func(m *Migrator) {
		m.clock = c
	}
}

// WithMigrations replaces the set of registered migrations.
func WithMigrations(mm []*Migration) MigratorOption {
	return func(m *Migrator) {
		m.migrations = mm
	}
}

// NewMigrator builds a Migrator for all registered migrations.
func NewMigrator(db *sql.DB, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		db:         db,
		migrations: All(),
		preflight:  feature.BackfillPreflight.Enabled(),
		lock:       true,
		lockID:     DefaultLockID,
		logger:     logrus.StandardLogger(),
		clock:      clock.New(),
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// MigrationStatus represents the status of a migration.
type MigrationStatus struct {
	Unknown        bool
	PostDeployment bool
	Revision       string
	DownRevision   string
	AppliedAt      *time.Time
}

func (m *Migrator) migrationSet() *migrate.MigrationSet {
	return &migrate.MigrationSet{
		TableName:     migrationTableName,
		IgnoreUnknown: m.skipPostDeployment,
	}
}

// History validates and returns the revision history of the migrations known by the migrator.
func (m *Migrator) History() (*History, error) {
	h, err := NewHistory(m.migrations)
	if err != nil {
		return nil, fmt.Errorf("loading migration history: %w", err)
	}
	return h, nil
}

func (m *Migrator) source(h *History) *migrate.MemoryMigrationSource {
	var mm []*migrate.Migration
	for _, mig := range h.All() {
		if m.skipPostDeployment && mig.PostDeployment {
			continue
		}
		mm = append(mm, mig.Migration)
	}
	return &migrate.MemoryMigrationSource{Migrations: mm}
}

// Version returns the ID of the latest applied migration, or an empty string if none was applied.
func (m *Migrator) Version() (string, error) {
	records, err := m.migrationSet().GetMigrationRecords(m.db, dialect)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[len(records)-1].Id, nil
}

// Current returns the revision of the latest applied migration, or an empty string if none was applied or the
// latest applied migration is unknown.
func (m *Migrator) Current() (string, error) {
	v, err := m.Version()
	if err != nil || v == "" {
		return "", err
	}
	h, err := m.History()
	if err != nil {
		return "", err
	}
	mig, ok := h.ByID(v)
	if !ok {
		return "", nil
	}
	return mig.Revision, nil
}

// LatestVersion returns the ID of the latest known migration.
func (m *Migrator) LatestVersion() (string, error) {
	h, err := m.History()
	if err != nil {
		return "", err
	}
	src := m.source(h)
	if len(src.Migrations) == 0 {
		return "", nil
	}
	return src.Migrations[len(src.Migrations)-1].Id, nil
}

// Up applies all pending up migrations. Returns the number of applied migrations.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	return m.UpN(ctx, 0)
}

// UpN applies up to n pending up migrations. All pending migrations will be applied if n is 0. Returns the number
// of applied migrations.
func (m *Migrator) UpN(ctx context.Context, n int) (int, error) {
	return m.migrate(ctx, migrate.Up, n)
}

// UpNPlan plans up to n up migrations and returns the ordered list of migration IDs. All pending migrations will be
// planned if n is 0.
func (m *Migrator) UpNPlan(n int) ([]string, error) {
	return m.plan(migrate.Up, n)
}

// Down applies all down migrations. Returns the number of applied migrations.
func (m *Migrator) Down(ctx context.Context) (int, error) {
	return m.DownN(ctx, 0)
}

// DownN applies up to n down migrations. All migrations will be reverted if n is 0. Returns the number of applied
// migrations.
func (m *Migrator) DownN(ctx context.Context, n int) (int, error) {
	return m.migrate(ctx, migrate.Down, n)
}

// DownNPlan plans up to n down migrations and returns the ordered list of migration IDs. All applied migrations will
// be planned if n is 0.
func (m *Migrator) DownNPlan(n int) ([]string, error) {
	return m.plan(migrate.Down, n)
}

// Status returns the status of all known and applied migrations, keyed by migration ID.
func (m *Migrator) Status() (map[string]*MigrationStatus, error) {
	h, err := m.History()
	if err != nil {
		return nil, err
	}

	records, err := m.migrationSet().GetMigrationRecords(m.db, dialect)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]*MigrationStatus, h.Len())
	for _, mig := range h.All() {
		statuses[mig.Id] = &MigrationStatus{
			PostDeployment: mig.PostDeployment,
			Revision:       mig.Revision,
			DownRevision:   mig.DownRevision,
		}
	}

	for _, r := range records {
		appliedAt := r.AppliedAt
		if s, ok := statuses[r.Id]; ok {
			s.AppliedAt = &appliedAt
			continue
		}
		statuses[r.Id] = &MigrationStatus{Unknown: true, AppliedAt: &appliedAt}
	}

	return statuses, nil
}

// HasPending determines whether there are known migrations that were not applied yet.
func (m *Migrator) HasPending() (bool, error) {
	plan, err := m.UpNPlan(0)
	if err != nil {
		return false, err
	}
	return len(plan) > 0, nil
}

func (m *Migrator) plan(direction migrate.MigrationDirection, limit int) ([]string, error) {
	h, err := m.History()
	if err != nil {
		return nil, err
	}

	planned, _, err := m.migrationSet().PlanMigration(m.db, dialect, m.source(h), direction, limit)
	if err != nil {
		return nil, fmt.Errorf("planning migrations: %w", err)
	}

	ids := make([]string, 0, len(planned))
	for _, p := range planned {
		ids = append(ids, p.Id)
	}
	return ids, nil
}

// migrate applies planned migrations one at a time, each in its own transaction unless disabled by the
// migration, so that every one of them can be checked right before it runs.
func (m *Migrator) migrate(ctx context.Context, direction migrate.MigrationDirection, limit int) (int, error) {
	h, err := m.History()
	if err != nil {
		return 0, err
	}

	unlock, err := m.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	set := m.migrationSet()
	src := m.source(h)
	planned, _, err := set.PlanMigration(m.db, dialect, src, direction, limit)
	if err != nil {
		return 0, fmt.Errorf("planning migrations: %w", err)
	}

	d := directionOf(direction)
	var applied int
	for _, p := range planned {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		mig, _ := h.ByID(p.Id)
		l := m.logger.WithFields(logrus.Fields{"id": p.Id, "direction": d.String()})
		if mig != nil {
			l = l.WithField("revision", mig.Revision)
		}

		if m.preflight && mig != nil {
			if err := m.checkBackfill(ctx, mig, direction); err != nil {
				if errors.Is(err, ErrBackfillRequired) {
					metrics.Failed(d, metrics.ReasonBackfillRequired)
				}
				l.WithError(err).Error("migration refused by preflight check")
				return applied, err
			}
		}

		start := m.clock.Now()
		n, err := set.ExecMaxContext(ctx, m.db, dialect, src, direction, 1)
		if err != nil {
			metrics.Failed(d, metrics.ReasonDatabaseError)
			l.WithError(err).Error("failed to apply migration")
			if mig != nil {
				return applied, fmt.Errorf("applying %s migration %s (revision %s): %w", d, p.Id, mig.Revision, err)
			}
			return applied, fmt.Errorf("applying %s migration %s: %w", d, p.Id, err)
		}
		if n == 0 {
			break
		}
		elapsed := m.clock.Since(start)
		applied += n

		metrics.Applied(d, elapsed)
		l.WithField("duration_s", elapsed.Seconds()).Info("migration applied")
	}

	return applied, nil
}

func directionOf(direction migrate.MigrationDirection) metrics.Direction {
	if direction == migrate.Down {
		return metrics.DirectionDown
	}
	return metrics.DirectionUp
}

// acquireLock takes a session level advisory lock on a dedicated connection, serializing concurrent migrators.
// The connection is held until the returned function is called, so the pool must allow at least two open
// connections.
func (m *Migrator) acquireLock(ctx context.Context) (func(), error) {
	if !m.lock {
		return func() {}, nil
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining connection for migration lock: %w", err)
	}

	m.logger.WithField("lock_id", m.lockID).Debug("acquiring migration lock")
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", m.lockID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}

	return func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", m.lockID); err != nil {
			m.logger.WithError(err).Warn("failed to release migration lock")
		}
		conn.Close()
	}, nil
}
