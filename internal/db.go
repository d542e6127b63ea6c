package internal

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lychee-technology/gridbase"
)

// Querier is the minimal query surface shared by pools, transactions and
// mocks.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can also open transactions. *pgxpool.Pool, pgx.Tx
// (savepoints) and pgxmock pools all satisfy it.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// withTx runs fn inside tx when one is supplied (commit left to the owner),
// otherwise opens a transaction on db, rolling back on error and committing
// on success.
func withTx(ctx context.Context, db DB, tx pgx.Tx, fn func(q Querier) error) error {
	if tx != nil {
		return fn(tx)
	}
	owned, err := db.Begin(ctx)
	if err != nil {
		return gridbase.NewTransactionError("begin transaction", err)
	}
	defer owned.Rollback(ctx) // no-op if committed

	if err := fn(owned); err != nil {
		return err
	}
	if err := owned.Commit(ctx); err != nil {
		return gridbase.NewTransactionError("commit transaction", err)
	}
	return nil
}
