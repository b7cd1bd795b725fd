package service

import (
	"context"
	"database/sql"
)

// TxRunner executes fn inside one transaction.  The transaction commits
// only when fn returns nil and is rolled back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Coordinator is the database-backed TxRunner.  The transaction handle
// is handed to fn explicitly and fn passes it on to every repository
// call, so the commit boundary is decided here and nowhere else.
type Coordinator struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewCoordinator returns a Coordinator that opens transactions on db
// with the driver's default isolation level.
func NewCoordinator(db *sql.DB) *Coordinator {
	return &Coordinator{db: db}
}

// InTx begins a transaction, runs fn and commits.  Any error from fn,
// including a failed read-back performed for the response, rolls back
// every write made inside it.  A panic in fn also rolls back.
func (c *Coordinator) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, c.opts)
	if err != nil {
		return internal("failed to start transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return internal("failed to commit transaction", err)
	}
	committed = true
	return nil
}
