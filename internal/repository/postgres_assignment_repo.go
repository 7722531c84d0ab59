package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/companionhub/internal/model"
)

// PostgresAssignmentRepo はPostgreSQLを使用したクリエイター割り当てリポジトリ。
type PostgresAssignmentRepo struct {
	db *sqlx.DB
}

// NewPostgresAssignmentRepo はPostgresAssignmentRepoを生成する。
func NewPostgresAssignmentRepo(db *sqlx.DB) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{db: db}
}

// Find は割り当てを取得する。見つからない場合はnilを返す。
func (r *PostgresAssignmentRepo) Find(ctx context.Context, companionID, creatorID string) (*model.CompanionAssignment, error) {
	a := &model.CompanionAssignment{}
	err := conn(ctx, r.db).GetContext(ctx, a,
		`SELECT id, companion_id, creator_id, assigned_by, assigned_at
		 FROM companion_assignments WHERE companion_id = $1 AND creator_id = $2`,
		companionID, creatorID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("割り当ての取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create は割り当てを作成する。
// 同じ(companion_id, creator_id)が既に存在する場合は何もしない。
func (r *PostgresAssignmentRepo) Create(ctx context.Context, a *model.CompanionAssignment) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO companion_assignments (id, companion_id, creator_id, assigned_by, assigned_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (companion_id, creator_id) DO NOTHING`,
		a.ID, a.CompanionID, a.CreatorID, a.AssignedBy, a.AssignedAt,
	)
	if err != nil {
		return fmt.Errorf("割り当ての作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は割り当てを削除する。
func (r *PostgresAssignmentRepo) Delete(ctx context.Context, companionID, creatorID string) (bool, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM companion_assignments WHERE companion_id = $1 AND creator_id = $2`,
		companionID, creatorID,
	)
	if err != nil {
		return false, fmt.Errorf("割り当ての削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// ListByCompanion はコンパニオンの割り当て一覧を割り当て順で返す。
func (r *PostgresAssignmentRepo) ListByCompanion(ctx context.Context, companionID string) ([]*model.CompanionAssignment, error) {
	var list []*model.CompanionAssignment
	err := conn(ctx, r.db).SelectContext(ctx, &list,
		`SELECT id, companion_id, creator_id, assigned_by, assigned_at
		 FROM companion_assignments WHERE companion_id = $1 ORDER BY assigned_at, id`,
		companionID,
	)
	if err != nil {
		return nil, fmt.Errorf("割り当て一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// CountByCreator はクリエイターに割り当てられたコンパニオン数を返す。
func (r *PostgresAssignmentRepo) CountByCreator(ctx context.Context, creatorID string) (int, error) {
	var count int
	err := conn(ctx, r.db).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM companion_assignments a
		 JOIN companions c ON c.id = a.companion_id
		 WHERE a.creator_id = $1 AND c.status <> 'deleted'`,
		creatorID,
	)
	if err != nil {
		return 0, fmt.Errorf("割り当て数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ AssignmentRepository = (*PostgresAssignmentRepo)(nil)
