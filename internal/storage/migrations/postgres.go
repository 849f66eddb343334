package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"position-ledger/internal/storage/postgres"
)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name        TEXT PRIMARY KEY,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// RunPostgresMigrations applies the embedded SQL files that are not yet recorded
// in schema_migrations, each in its own transaction. Returns the applied file names.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger logrus.FieldLogger) ([]string, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	files, err := readMigrations(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, file := range files {
		done, err := applyPostgresFile(ctx, pool, file)
		if err != nil {
			return applied, err
		}
		if done {
			logger.WithField("migration", file.Name).Info("applied postgres migration")
			applied = append(applied, file.Name)
		}
	}
	return applied, nil
}

// applyPostgresFile returns false if the file was applied earlier.
func applyPostgresFile(ctx context.Context, pool *postgres.Pool, file migrationFile) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, file.Name)
	if err != nil {
		return false, fmt.Errorf("record migration %s: %w", file.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return false, fmt.Errorf("apply migration %s: %w", file.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", file.Name, err)
	}
	return true, nil
}
