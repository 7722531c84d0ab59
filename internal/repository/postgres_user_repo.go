package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/companionhub/internal/model"
)

const userColumns = `id, username, email, password_hash, role, learning_points, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sqlx.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sqlx.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByIDForUpdate は指定IDのユーザーを行ロック付きで取得する。
func (r *PostgresUserRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg any) (*model.User, error) {
	user := &model.User{}
	err := conn(ctx, r.db).GetContext(ctx, user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, learning_points, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.LearningPoints,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// ListByRole は指定ロールのユーザー一覧をユーザー名順で返す。
func (r *PostgresUserRepo) ListByRole(ctx context.Context, role model.Role) ([]*model.User, error) {
	var users []*model.User
	var err error
	if role == "" {
		err = conn(ctx, r.db).SelectContext(ctx, &users,
			`SELECT `+userColumns+` FROM users ORDER BY username, id`)
	} else {
		err = conn(ctx, r.db).SelectContext(ctx, &users,
			`SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY username, id`, role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	return users, nil
}

// DebitPoints はlearning_pointsを減算し、減算後の残高を返す。
// WHERE句で残高を確認するため、CHECK制約に到達する前にErrBalanceGuardを返す。
func (r *PostgresUserRepo) DebitPoints(ctx context.Context, id string, amount int) (int, error) {
	var balance int
	err := conn(ctx, r.db).GetContext(ctx, &balance,
		`UPDATE users
		 SET learning_points = learning_points - $2, updated_at = now()
		 WHERE id = $1 AND learning_points >= $2
		 RETURNING learning_points`,
		id, amount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrBalanceGuard
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit learning points: %w", err)
	}
	return balance, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
