package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/companionhub/internal/model"
)

const subscriptionColumns = `id, user_id, companion_id, recruited_at, is_active, total_messages, last_interaction_at`

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
// テーブル名はuser_companions。
type PostgresSubscriptionRepo struct {
	db *sqlx.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sqlx.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByUserAndCompanion はユーザーIDとコンパニオンIDで購読を検索する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserAndCompanion(ctx context.Context, userID, companionID string) (*model.Subscription, error) {
	return r.findOne(ctx,
		`SELECT `+subscriptionColumns+` FROM user_companions WHERE user_id = $1 AND companion_id = $2`,
		userID, companionID)
}

// FindByUserAndCompanionForUpdate は行ロック付きで購読を検索する。
func (r *PostgresSubscriptionRepo) FindByUserAndCompanionForUpdate(ctx context.Context, userID, companionID string) (*model.Subscription, error) {
	return r.findOne(ctx,
		`SELECT `+subscriptionColumns+` FROM user_companions WHERE user_id = $1 AND companion_id = $2 FOR UPDATE`,
		userID, companionID)
}

func (r *PostgresSubscriptionRepo) findOne(ctx context.Context, query, userID, companionID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := conn(ctx, r.db).GetContext(ctx, sub, query, userID, companionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// Activate は購読をUPSERTで有効化する。
// 一意制約(user_id, companion_id)により重複行は作られない。
func (r *PostgresSubscriptionRepo) Activate(ctx context.Context, sub *model.Subscription) error {
	err := conn(ctx, r.db).GetContext(ctx, sub,
		`INSERT INTO user_companions (id, user_id, companion_id, recruited_at, is_active, total_messages)
		 VALUES ($1, $2, $3, $4, true, 0)
		 ON CONFLICT (user_id, companion_id)
		 DO UPDATE SET is_active = true, recruited_at = EXCLUDED.recruited_at
		 RETURNING `+subscriptionColumns,
		sub.ID, sub.UserID, sub.CompanionID, sub.RecruitedAt,
	)
	if err != nil {
		return fmt.Errorf("購読の有効化に失敗しました: %w", err)
	}
	return nil
}

// Deactivate は購読を無効化する。
func (r *PostgresSubscriptionRepo) Deactivate(ctx context.Context, id string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE user_companions SET is_active = false WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("購読の無効化に失敗しました: %w", err)
	}
	return nil
}

// CountActiveByCompanion はコンパニオンのアクティブな購読数を返す。
func (r *PostgresSubscriptionRepo) CountActiveByCompanion(ctx context.Context, companionID string) (int, error) {
	var count int
	err := conn(ctx, r.db).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM user_companions WHERE companion_id = $1 AND is_active = true`,
		companionID,
	)
	if err != nil {
		return 0, fmt.Errorf("アクティブ購読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CountActiveByUser はユーザーのアクティブな購読数を返す。
func (r *PostgresSubscriptionRepo) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := conn(ctx, r.db).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM user_companions WHERE user_id = $1 AND is_active = true`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("アクティブ購読数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// subscriptionJoinRow は購読とコンパニオンのJOIN結果の1行。
type subscriptionJoinRow struct {
	model.Subscription
	C companionRow `db:"c"`
}

// ListActiveByUser はユーザーのアクティブな購読をコンパニオン情報付きで返す。
// 論理削除済みのコンパニオンも含める。削除後も購読が残ることはないが、表示側で判定できるようにする。
func (r *PostgresSubscriptionRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.SubscriptionWithCompanion, error) {
	var rows []subscriptionJoinRow
	err := conn(ctx, r.db).SelectContext(ctx, &rows,
		`SELECT uc.id, uc.user_id, uc.companion_id, uc.recruited_at, uc.is_active, uc.total_messages,
		        uc.last_interaction_at,
		        c.id AS "c.id", c.name AS "c.name", c.role_description AS "c.role_description",
		        c.category AS "c.category", c.avatar_emoji AS "c.avatar_emoji", c.color_class AS "c.color_class",
		        c.cost_points AS "c.cost_points", c.description AS "c.description", c.quote AS "c.quote",
		        c.dify_prompt_link AS "c.dify_prompt_link", c.dify_api_key AS "c.dify_api_key",
		        c.remarks AS "c.remarks", c.status AS "c.status", c.rating AS "c.rating",
		        c.current_subscribers AS "c.current_subscribers",
		        c.total_subscribers_ever AS "c.total_subscribers_ever",
		        c.created_at AS "c.created_at", c.updated_at AS "c.updated_at"
		 FROM user_companions uc
		 JOIN companions c ON c.id = uc.companion_id
		 WHERE uc.user_id = $1 AND uc.is_active = true
		 ORDER BY uc.recruited_at DESC, uc.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}

	result := make([]*model.SubscriptionWithCompanion, 0, len(rows))
	for i := range rows {
		result = append(result, &model.SubscriptionWithCompanion{
			Subscription: rows[i].Subscription,
			Companion:    *rows[i].C.toModel(),
		})
	}
	return result, nil
}

// RecordInteraction はメッセージ数を加算し最終会話日時を更新する。
func (r *PostgresSubscriptionRepo) RecordInteraction(ctx context.Context, id string, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE user_companions
		 SET total_messages = total_messages + 1, last_interaction_at = $2
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("会話記録の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
