package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/coffer/internal/sqlmigrate"
	"github.com/xraph/coffer/store/postgres/migrations"
)

const migrationTable = "coffer_schema_migrations"

// migrationLockKey serializes concurrent Migrate calls across processes.
const migrationLockKey int64 = 0x636f66666572

// Migrate applies every embedded migration not yet recorded, in one
// transaction guarded by an advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := sqlmigrate.Load(migrations.FS)
	if err != nil {
		return fmt.Errorf("coffer/postgres: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("coffer/postgres: begin migration: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("coffer/postgres: lock migrations: %w", err)
	}
	if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("coffer/postgres: ensure migration table: %w", err)
	}

	for _, m := range files {
		var applied bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+migrationTable+` WHERE name = $1)`, m.Name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("coffer/postgres: check migration %s: %w", m.Name, err)
		}
		if applied {
			continue
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			return fmt.Errorf("coffer/postgres: exec migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+migrationTable+` (name) VALUES ($1)`, m.Name,
		); err != nil {
			return fmt.Errorf("coffer/postgres: record migration %s: %w", m.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("coffer/postgres: commit migrations: %w", err)
	}
	return nil
}
