package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/companionhub/internal/model"
)

const companionColumns = `id, name, role_description, category, avatar_emoji, color_class, cost_points,
	description, quote, dify_prompt_link, dify_api_key, remarks, status, rating,
	current_subscribers, total_subscribers_ever, created_at, updated_at`

// companionRow はcompanionsテーブルの1行を表す。
type companionRow struct {
	ID                   string         `db:"id"`
	Name                 string         `db:"name"`
	RoleDescription      string         `db:"role_description"`
	Category             string         `db:"category"`
	AvatarEmoji          string         `db:"avatar_emoji"`
	ColorClass           string         `db:"color_class"`
	CostPoints           int            `db:"cost_points"`
	Description          string         `db:"description"`
	Quote                string         `db:"quote"`
	DifyPromptLink       sql.NullString `db:"dify_prompt_link"`
	DifyAPIKey           sql.NullString `db:"dify_api_key"`
	Remarks              sql.NullString `db:"remarks"`
	Status               string         `db:"status"`
	Rating               float64        `db:"rating"`
	CurrentSubscribers   int            `db:"current_subscribers"`
	TotalSubscribersEver int            `db:"total_subscribers_ever"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (row *companionRow) toModel() *model.Companion {
	return &model.Companion{
		ID:              row.ID,
		Name:            row.Name,
		RoleDescription: row.RoleDescription,
		Category:        row.Category,
		AvatarEmoji:     row.AvatarEmoji,
		ColorClass:      row.ColorClass,
		CostPoints:      row.CostPoints,
		Description:     row.Description,
		Quote:           row.Quote,
		DifyPromptLink:  row.DifyPromptLink.String,
		DifyAPIKey:      row.DifyAPIKey.String,
		Remarks:         row.Remarks.String,
		Status:          model.CompanionStatus(row.Status),
		Stats: model.CompanionStats{
			Rating:               row.Rating,
			CurrentSubscribers:   row.CurrentSubscribers,
			TotalSubscribersEver: row.TotalSubscribersEver,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// nullString は空文字をNULLとして保存する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresCompanionRepo はPostgreSQLを使用したコンパニオンリポジトリ。
type PostgresCompanionRepo struct {
	db *sqlx.DB
}

// NewPostgresCompanionRepo はPostgresCompanionRepoを生成する。
func NewPostgresCompanionRepo(db *sqlx.DB) *PostgresCompanionRepo {
	return &PostgresCompanionRepo{db: db}
}

// List は条件に一致するコンパニオンを登録順で返す。
func (r *PostgresCompanionRepo) List(ctx context.Context, filter CompanionFilter) ([]*model.Companion, error) {
	var (
		conds []string
		args  []any
	)
	switch {
	case filter.ActiveOnly:
		conds = append(conds, "status = 'active'")
	case !filter.IncludeDeleted:
		conds = append(conds, "status <> 'deleted'")
	}
	if filter.CreatorID != "" {
		args = append(args, filter.CreatorID)
		conds = append(conds, fmt.Sprintf(
			"id IN (SELECT companion_id FROM companion_assignments WHERE creator_id = $%d)", len(args)))
	}

	query := `SELECT ` + companionColumns + ` FROM companions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	var rows []companionRow
	if err := conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("コンパニオン一覧の取得に失敗しました: %w", err)
	}

	companions := make([]*model.Companion, 0, len(rows))
	for i := range rows {
		companions = append(companions, rows[i].toModel())
	}
	return companions, nil
}

// FindByID は指定IDのコンパニオンを取得する。見つからない場合はnilを返す。
func (r *PostgresCompanionRepo) FindByID(ctx context.Context, id string) (*model.Companion, error) {
	return r.findOne(ctx, `SELECT `+companionColumns+` FROM companions WHERE id = $1`, id)
}

// FindByIDForUpdate は指定IDのコンパニオンを行ロック付きで取得する。
func (r *PostgresCompanionRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Companion, error) {
	return r.findOne(ctx, `SELECT `+companionColumns+` FROM companions WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresCompanionRepo) findOne(ctx context.Context, query, id string) (*model.Companion, error) {
	var row companionRow
	err := conn(ctx, r.db).GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンパニオンの取得に失敗しました: %w", err)
	}
	return row.toModel(), nil
}

// Create はコンパニオンを作成する。
func (r *PostgresCompanionRepo) Create(ctx context.Context, c *model.Companion) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO companions (id, name, role_description, category, avatar_emoji, color_class, cost_points,
		   description, quote, dify_prompt_link, dify_api_key, remarks, status, rating,
		   current_subscribers, total_subscribers_ever, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.Name, c.RoleDescription, c.Category, c.AvatarEmoji, c.ColorClass, c.CostPoints,
		c.Description, c.Quote, nullString(c.DifyPromptLink), nullString(c.DifyAPIKey), nullString(c.Remarks),
		c.Status, c.Stats.Rating, c.Stats.CurrentSubscribers, c.Stats.TotalSubscribersEver,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コンパニオンの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は編集可能なフィールドを更新する。集計値は更新しない。
func (r *PostgresCompanionRepo) Update(ctx context.Context, c *model.Companion) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE companions
		 SET name = $2, role_description = $3, category = $4, avatar_emoji = $5, color_class = $6,
		     cost_points = $7, description = $8, quote = $9, dify_prompt_link = $10, dify_api_key = $11,
		     remarks = $12, status = $13, updated_at = $14
		 WHERE id = $1 AND status <> 'deleted'`,
		c.ID, c.Name, c.RoleDescription, c.Category, c.AvatarEmoji, c.ColorClass,
		c.CostPoints, c.Description, c.Quote, nullString(c.DifyPromptLink), nullString(c.DifyAPIKey),
		nullString(c.Remarks), c.Status, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コンパニオンの更新に失敗しました: %w", err)
	}
	return nil
}

// MarkDeleted はstatusをdeletedにする。
func (r *PostgresCompanionRepo) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE companions SET status = 'deleted', updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("コンパニオンの論理削除に失敗しました: %w", err)
	}
	return nil
}

// IncrementSubscribers は購読者数を加算する。
func (r *PostgresCompanionRepo) IncrementSubscribers(ctx context.Context, id string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE companions
		 SET current_subscribers = current_subscribers + 1,
		     total_subscribers_ever = total_subscribers_ever + 1
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("購読者数の加算に失敗しました: %w", err)
	}
	return nil
}

// DecrementSubscribers は現在の購読者数を減算する。0未満にはしない。
func (r *PostgresCompanionRepo) DecrementSubscribers(ctx context.Context, id string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE companions
		 SET current_subscribers = GREATEST(current_subscribers - 1, 0)
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("購読者数の減算に失敗しました: %w", err)
	}
	return nil
}

// Totals はダッシュボード用の集計値を返す。
func (r *PostgresCompanionRepo) Totals(ctx context.Context) (CompanionTotals, error) {
	var totals CompanionTotals
	err := conn(ctx, r.db).GetContext(ctx, &totals,
		`SELECT COUNT(*) AS companions, COALESCE(SUM(current_subscribers), 0) AS subscribers
		 FROM companions WHERE status <> 'deleted'`,
	)
	if err != nil {
		return CompanionTotals{}, fmt.Errorf("コンパニオン集計の取得に失敗しました: %w", err)
	}
	return totals, nil
}

// compile-time interface check
var _ CompanionRepository = (*PostgresCompanionRepo)(nil)
