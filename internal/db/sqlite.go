package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/roasbeef/outreach/internal/db/sqlc"
)

// DefaultDBPath returns the default path for the outreach database.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".outreach", "outreach.db"), nil
}

// SqliteConfig holds the parameters for opening the SQLite store.
type SqliteConfig struct {
	// DatabaseFileName is the full path of the database file.
	DatabaseFileName string

	// SkipMigrations leaves the schema untouched.
	SkipMigrations bool

	// SkipMigrationDBBackup skips the VACUUM INTO backup taken before
	// migrations are applied to an existing database.
	SkipMigrationDBBackup bool
}

// SqliteStore is a migrated SQLite database with a transaction executor
// over the sqlc queries.
type SqliteStore struct {
	cfg *SqliteConfig

	*BaseDB

	log *slog.Logger
}

// OpenSQLite opens a SQLite database connection with WAL mode enabled and
// appropriate pragmas for performance and reliability.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	// Ensure the directory exists.
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"+
			"&_txlock=immediate",
		dbPath,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; the daemon and the CLI coordinate through the busy
	// timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return db, nil
}

// configurePragmas sets additional SQLite pragmas.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		// NORMAL is durable in WAL mode across application crashes.
		"PRAGMA synchronous = NORMAL",

		// Negative value is in KiB: 16MB.
		"PRAGMA cache_size = -16384",

		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// NewSqliteStore opens the database described by cfg and brings its schema
// up to date.
func NewSqliteStore(cfg *SqliteConfig, log *slog.Logger) (*SqliteStore, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	_, statErr := os.Stat(cfg.DatabaseFileName)
	existed := statErr == nil

	db, err := OpenSQLite(cfg.DatabaseFileName)
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{
		cfg:    cfg,
		BaseDB: NewBaseDB(db),
		log:    log,
	}

	if !cfg.SkipMigrations {
		if err := s.migrate(existed); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// migrate brings the schema up to date. An existing database is
// snapshotted first, but only when a migration is pending.
func (s *SqliteStore) migrate(existed bool) error {
	ctx := context.Background()

	version, _, err := s.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		version = 0

	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= SchemaVersion {
		return s.ExecuteMigrations()
	}

	if existed && !s.cfg.SkipMigrationDBBackup {
		backup, err := snapshotDatabase(
			ctx, s.DB(), s.cfg.DatabaseFileName, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("backup before migration: %w", err)
		}
		s.log.InfoContext(ctx, "Database snapshotted before migration",
			"backup", backup, "db_version", version)
	}

	if err := s.ExecuteMigrations(); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

// ExecuteMigrations runs the pending embedded migrations.
func (s *SqliteStore) ExecuteMigrations(opts ...MigrateOpt) error {
	plan := migrationPlan{known: SchemaVersion}
	for _, opt := range opts {
		opt(&plan)
	}

	driver, err := sqlite_migrate.WithInstance(
		s.BaseDB.DB, &sqlite_migrate.Config{},
	)
	if err != nil {
		return fmt.Errorf("error creating sqlite migration: %w", err)
	}

	return migrateSchema(context.Background(), driver, plan, s.log)
}

// Version returns the current schema version.
func (s *SqliteStore) Version() (uint, bool, error) {
	driver, err := sqlite_migrate.WithInstance(
		s.BaseDB.DB, &sqlite_migrate.Config{},
	)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := driver.Version()
	if err != nil {
		return 0, false, err
	}
	if version == -1 {
		return 0, dirty, migrate.ErrNilVersion
	}

	return uint(version), dirty, nil
}

// DB returns the underlying connection.
func (s *SqliteStore) DB() *sql.DB {
	return s.BaseDB.DB
}

// Executor returns a transaction executor over the sqlc queries.
func (s *SqliteStore) Executor(opts ...TxExecutorOption) *TransactionExecutor[*sqlc.Queries] {
	return NewTransactionExecutor(
		s.BaseDB, func(tx *sql.Tx) *sqlc.Queries {
			return s.BaseDB.Queries.WithTx(tx)
		}, s.log, opts...,
	)
}

// Ping checks that the database is reachable.
func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB().PingContext(ctx)
}
