// Package migrations owns the Postgres schema the repositories expect.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"campaign-engine/pkg/utils"
)

// lockKey serializes runners started by several replicas at once.
const lockKey = 74_011_203

// Latest is the version a fully migrated database reports.
func Latest() int { return len(migrations) }

// Up applies every pending group in order and returns the resulting version.
func Up(ctx context.Context, db *sql.DB, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	const create = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("migrations: bootstrap: %w", err)
	}

	version := 0
	for i, group := range migrations {
		v := i + 1
		applied := false
		err := utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, v).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			for _, stmt := range group {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, v); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			return version, fmt.Errorf("migrations: version %d: %w", v, err)
		}
		if applied {
			log.Info("migration applied", "version", v, "statements", len(group))
		}
		version = v
	}
	return version, nil
}
