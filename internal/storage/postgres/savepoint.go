package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithSavepoint runs fn inside a named SAVEPOINT on tx, rolling back only
// that savepoint (not the whole transaction) if fn fails. pgx has no native
// savepoint helper (unlike database/sql's nested-tx emulation in some
// drivers), so this issues the SQL directly; see DESIGN.md.
//
// Used for the attempt processor's audit-log and session-counter writes
// (§4.E steps 14-15): those failures must not roll back the main ledger
// commit.
func WithSavepoint(ctx context.Context, tx pgx.Tx, name string, fn func(pgx.Tx) error) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf("SAVEPOINT %s", name)); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(tx); err != nil {
		if _, rbErr := tx.Exec(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name)); rbErr != nil {
			return fmt.Errorf("rollback savepoint %s after %v: %w", name, err, rbErr)
		}
		return err
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", name)); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
