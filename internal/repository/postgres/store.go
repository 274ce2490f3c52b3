// Package postgres implements the lifecycle persistence collaborator
// on PostgreSQL via sqlx.
package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"ecycle/internal/lifecycle"
	"ecycle/pkg/errors"
)

// Store backs the lifecycle engine with transactional device, event and
// reward persistence.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// InTx runs fn inside a single database transaction. The transaction is
// rolled back on any error from fn, including a caller abort surfacing
// through the context, so no intermediate state becomes visible.
func (s *Store) InTx(ctx context.Context, fn func(uow lifecycle.UnitOfWork) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(&unitOfWork{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// unitOfWork scopes repository operations to one open transaction.
type unitOfWork struct {
	tx *sqlx.Tx
}
