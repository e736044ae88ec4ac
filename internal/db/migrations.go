package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// SchemaVersion is the schema version this build writes.
//
// NOTE: bump it together with every new file under migrations/.
const SchemaVersion uint = 1

var (
	// ErrSchemaTooNew is returned when the database was migrated by a
	// newer build. Running down migrations could drop outreach history,
	// so the store refuses to open instead.
	ErrSchemaTooNew = errors.New("database schema is newer than this " +
		"build")

	// ErrSchemaDirty is returned when an earlier migration stopped half
	// way.
	ErrSchemaDirty = errors.New("database schema is dirty")
)

// migrationPlan is one migration run.
type migrationPlan struct {
	// known is the newest version this build understands.
	known uint

	// target is the version to stop at. Zero runs every pending
	// migration.
	target uint
}

// MigrateOpt adjusts a migration run.
type MigrateOpt func(*migrationPlan)

// ToVersion stops the run at version v.
func ToVersion(v uint) MigrateOpt {
	return func(p *migrationPlan) {
		p.target = v
	}
}

// WithKnownVersion overrides SchemaVersion for the downgrade check.
func WithKnownVersion(v uint) MigrateOpt {
	return func(p *migrationPlan) {
		p.known = v
	}
}

// slogMigrateLogger adapts *slog.Logger to migrate.Logger.
type slogMigrateLogger struct {
	log *slog.Logger
}

func (m slogMigrateLogger) Printf(format string, v ...any) {
	m.log.Debug(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (m slogMigrateLogger) Verbose() bool {
	return false
}

// migrateSchema applies the embedded migrations through driver.
func migrateSchema(ctx context.Context, driver database.Driver,
	plan migrationPlan, log *slog.Logger) error {

	src, err := httpfs.New(http.FS(sqlSchemas), "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("migrations", src, "sqlite", driver)
	if err != nil {
		return err
	}
	m.Log = slogMigrateLogger{log: log}

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0

	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d, repair it by hand",
			ErrSchemaDirty, before)
	}
	if before > plan.known {
		return fmt.Errorf("%w: db_version=%d known_version=%d",
			ErrSchemaTooNew, before, plan.known)
	}

	if plan.target == 0 {
		err = m.Up()
	} else {
		err = m.Migrate(plan.target)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	after, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if after != before {
		log.InfoContext(ctx, "Outreach schema migrated",
			"from_version", before, "to_version", after)
	}

	return nil
}

// snapshotDatabase copies the database next to itself with VACUUM INTO so
// a failed migration never loses outreach history. It returns the copy's
// path.
func snapshotDatabase(ctx context.Context, db *sql.DB, path string,
	now time.Time) (string, error) {

	dst := fmt.Sprintf("%s.%s.backup", path, now.UTC().Format(
		"20060102T150405.000000000",
	))
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}

	return dst, nil
}
