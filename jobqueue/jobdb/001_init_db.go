package jobdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE jobs (
			id          TEXT PRIMARY KEY NOT NULL,
			owner       TEXT NOT NULL DEFAULT '',
			script      TEXT NOT NULL DEFAULT '',
			priority    INTEGER NOT NULL DEFAULT 0,
			cost        INTEGER NOT NULL DEFAULT 0,
			accepted    INTEGER NOT NULL DEFAULT 0
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX jobs_owner_idx ON jobs(owner, id)`); err != nil {
		return fmt.Errorf("create jobs index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX jobs_owner_idx`); err != nil {
		return fmt.Errorf("drop jobs_owner_idx index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE jobs`); err != nil {
		return fmt.Errorf("drop jobs table: %w", err)
	}
	return nil
}
