// Package db is the Postgres persistence layer: feed message dedup store,
// patch cards, series threads, filter rules and typed config, all behind
// a pgx/v5 connection pool with golang-migrate managed schema.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/patchlore/patchlore/config"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

// Database wraps the connection pool. All query methods hang off it.
type Database struct {
	Pool *pgxpool.Pool

	connString string
}

// New opens a connection pool and verifies connectivity with a ping.
// It does not run migrations; callers decide whether a migration failure
// is fatal (the server treats it as a logged warning).
func New(ctx context.Context, dbCfg *config.DatabaseConfig) (*Database, error) {
	connString := dbCfg.ConnString()

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	return &Database{Pool: pool, connString: connString}, nil
}

func (d *Database) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// Migrate applies all pending embedded migrations. migrate.ErrNoChange is
// success; the schema files use IF NOT EXISTS guards so re-running a
// partially applied version converges instead of failing.
func (d *Database) Migrate(ctx context.Context) error {
	m, cleanup, err := d.migrateInstance(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown reverts n migrations, or all of them when n < 0.
func (d *Database) MigrateDown(ctx context.Context, n int) error {
	m, cleanup, err := d.migrateInstance(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if n < 0 {
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				return nil
			}
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database is dirty at version %d, fix with force", version)
		}
		n = int(version)
	}

	if err := m.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

// MigrateVersion reports the current schema version and dirty flag.
// A fresh database reports version 0.
func (d *Database) MigrateVersion(ctx context.Context) (uint, bool, error) {
	m, cleanup, err := d.migrateInstance(ctx)
	if err != nil {
		return 0, false, err
	}
	defer cleanup()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

// MigrateForce stamps the schema at a version to clear a dirty state.
func (d *Database) MigrateForce(ctx context.Context, version int) error {
	m, cleanup, err := d.migrateInstance(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return m.Force(version)
}

// migrateInstance builds a golang-migrate instance over a dedicated
// database/sql connection; the pgx/v5 migrate driver requires one.
func (d *Database) migrateInstance(ctx context.Context) (*migrate.Migrate, func(), error) {
	sqlDB, err := sql.Open("pgx", d.connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database for migration: %w", err)
	}

	migrations, err := fs.Sub(MigrationsFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := pgxv5.WithInstance(sqlDB, &pgxv5.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx", dbDriver)
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	cleanup := func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Printf("[DB] WARNING: closing migration instance: source=%v db=%v", srcErr, dbErr)
		}
		sqlDB.Close()
	}
	return m, cleanup, nil
}
