package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txBeginner exposes the minimal pgx pool behaviour needed by DB.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// DB wraps a pgx pool so every state transition runs as a single transaction.
// The managers rely on this for their check-then-write atomicity; nothing in
// the stores writes outside a DB.WithTx closure.
type DB struct {
	pool txBeginner
}

// NewDB constructs the transaction runner shared by all stores.
func NewDB(pool *pgxpool.Pool) *DB {
	if pool == nil {
		panic("DB requires pool")
	}
	return &DB{pool: pool}
}

// WithTx executes fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. Partial applies are never observable.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
