package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/companionhub/internal/model"
)

// PostgresPointTransactionRepo はPostgreSQLを使用したポイント台帳リポジトリ。
type PostgresPointTransactionRepo struct {
	db *sqlx.DB
}

// NewPostgresPointTransactionRepo はPostgresPointTransactionRepoを生成する。
func NewPostgresPointTransactionRepo(db *sqlx.DB) *PostgresPointTransactionRepo {
	return &PostgresPointTransactionRepo{db: db}
}

// Create は台帳エントリを追記する。
func (r *PostgresPointTransactionRepo) Create(ctx context.Context, txn *model.PointTransaction) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO point_transactions (id, user_id, amount, type, reference, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.UserID, txn.Amount, txn.Type, txn.Reference, txn.BalanceAfter, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ポイント台帳への記録に失敗しました: %w", err)
	}
	return nil
}

// ListByUser はユーザーの台帳エントリを新しい順に返す。
func (r *PostgresPointTransactionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.PointTransaction, error) {
	var list []*model.PointTransaction
	err := conn(ctx, r.db).SelectContext(ctx, &list,
		`SELECT id, user_id, amount, type, reference, balance_after, created_at
		 FROM point_transactions WHERE user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ポイント履歴の取得に失敗しました: %w", err)
	}
	return list, nil
}

// compile-time interface check
var _ PointTransactionRepository = (*PostgresPointTransactionRepo)(nil)
