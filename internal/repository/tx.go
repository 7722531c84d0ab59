package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DBTX は*sqlx.DBと*sqlx.Txの共通インターフェース。
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type txKey struct{}

// conn はctxにトランザクションがあればそれを、なければdbを返す。
func conn(ctx context.Context, db *sqlx.DB) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

// PostgresTxManager はsqlxのトランザクションをctxに載せて伝搬する。
type PostgresTxManager struct {
	db *sqlx.DB
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
func NewPostgresTxManager(db *sqlx.DB) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// 既にトランザクション内の場合は新たに開始せず、外側のトランザクションに参加する。
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ TxManager = (*PostgresTxManager)(nil)
