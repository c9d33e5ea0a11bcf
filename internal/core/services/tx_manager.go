package services

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/andrewmcl6081/cloudchat/internal/plugins/postgres"
)

type TxManager struct {
	db  *sql.DB
	log *slog.Logger
}

func NewTxManager(log *slog.Logger, db *sql.DB) *TxManager {
	return &TxManager{db: db, log: log}
}

func (tm *TxManager) WithTx(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ctxWithTx := postgres.WithTxContext(ctx, tx)
	if err := fn(ctxWithTx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.log.Error("tx manager - with tx - rollback failed", "err", rbErr)
		}
		return err
	}
	return tx.Commit()
}
