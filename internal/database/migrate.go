package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// OpenPostgres opens a pgx-backed *sql.DB and verifies connectivity.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func RunMigrations(db *sql.DB, migrationsPath string, logger *slog.Logger) error {
	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"pgx5",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	switch {
	case err == nil:
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Database is up to date, no migrations to run")
		return nil
	default:
		if retryErr := retryDirty(m, logger); retryErr != nil {
			return fmt.Errorf("failed to run migrations: %w", errors.Join(err, retryErr))
		}
	}

	version, dirty, _ := m.Version()
	logger.Info("Migrations completed successfully", "version", version, "dirty", dirty)

	return nil
}

// retryDirty rolls a dirty version back by one and reapplies.
func retryDirty(m *migrate.Migrate, logger *slog.Logger) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if !dirty {
		return errors.New("migration failed on a clean database")
	}

	logger.Warn("Detected dirty migration state, forcing previous version to retry", "version", version)
	target := int(version) - 1
	if target < 1 {
		target = -1
	}
	if err := m.Force(target); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations after dirty fix: %w", err)
	}
	return nil
}
