package postgres

import (
	"context"
	"database/sql"
)

type txKeyType struct{}

var txKey = txKeyType{}

type execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func GetExecutor(ctx context.Context, db *sql.DB) execer {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return db
}

// WithTxContext binds a transaction into the context for GetExecutor.
// Used by the services TxManager.
func WithTxContext(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}
