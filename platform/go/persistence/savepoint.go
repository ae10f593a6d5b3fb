package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrSavepoint marks a failure to create, release or roll back a savepoint.
// When it happens the enclosing transaction is unusable and must be rolled back.
var ErrSavepoint = errors.New("savepoint failed")

// InSavepoint runs fn inside a savepoint of tx. A failing fn only undoes its own
// work, so the enclosing transaction stays usable and fn's error is returned as is.
func InSavepoint(ctx context.Context, tx pgx.Tx, fn func(pgx.Tx) error) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrSavepoint, err)
	}

	if err := fn(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("%w: rollback: %w", ErrSavepoint, rbErr))
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("%w: release: %w", ErrSavepoint, err)
	}
	return nil
}
