// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/companionhub/internal/model"
)

// ErrBalanceGuard はポイント減算の条件付きUPDATEが0行だった場合に返される。
// 行ロック下では発生しないため、発生した場合は不整合として扱う。
var ErrBalanceGuard = errors.New("repository: learning points guard rejected debit")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByIDForUpdate は指定IDのユーザーを行ロック付きで取得する。
	// トランザクション内でのみ意味を持つ。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// ListByRole は指定ロールのユーザー一覧を返す。roleが空の場合は全ユーザー。
	ListByRole(ctx context.Context, role model.Role) ([]*model.User, error)

	// DebitPoints はlearning_pointsをamountだけ減算し、減算後の残高を返す。
	// 残高が不足する場合はErrBalanceGuardを返す。
	DebitPoints(ctx context.Context, id string, amount int) (int, error)
}

// CompanionFilter はコンパニオン一覧の絞り込み条件。
type CompanionFilter struct {
	IncludeDeleted bool
	// ActiveOnlyがtrueの場合、非公開(inactive)のコンパニオンも除外する。
	ActiveOnly bool
	// CreatorIDが空でない場合、そのクリエイターに割り当て済みのコンパニオンのみ返す。
	CreatorID string
}

// CompanionTotals はカタログ全体の集計値。
type CompanionTotals struct {
	Companions  int `db:"companions"`
	Subscribers int `db:"subscribers"`
}

// CompanionRepository はコンパニオンデータの永続化インターフェース。
type CompanionRepository interface {
	// List は条件に一致するコンパニオンを登録順で返す。
	List(ctx context.Context, filter CompanionFilter) ([]*model.Companion, error)

	// FindByID は指定IDのコンパニオンを取得する。論理削除済みも返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Companion, error)

	// FindByIDForUpdate は指定IDのコンパニオンを行ロック付きで取得する。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id string) (*model.Companion, error)

	// Create はコンパニオンを作成する。
	Create(ctx context.Context, companion *model.Companion) error

	// Update は編集可能なフィールドとstatus、updated_atを更新する。
	// 論理削除済みの行は更新しない。
	Update(ctx context.Context, companion *model.Companion) error

	// MarkDeleted はstatusをdeletedにする。
	MarkDeleted(ctx context.Context, id string, at time.Time) error

	// IncrementSubscribers はcurrent_subscribersとtotal_subscribers_everを1ずつ加算する。
	IncrementSubscribers(ctx context.Context, id string) error

	// DecrementSubscribers はcurrent_subscribersを1減算する。0未満にはしない。
	DecrementSubscribers(ctx context.Context, id string) error

	// Totals は論理削除されていないコンパニオン数と現在の購読者数の合計を返す。
	Totals(ctx context.Context) (CompanionTotals, error)
}

// AssignmentRepository はクリエイター割り当ての永続化インターフェース。
type AssignmentRepository interface {
	// Find は割り当てを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, companionID, creatorID string) (*model.CompanionAssignment, error)

	// Create は割り当てを作成する。
	Create(ctx context.Context, assignment *model.CompanionAssignment) error

	// Delete は割り当てを削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, companionID, creatorID string) (bool, error)

	// ListByCompanion はコンパニオンの割り当て一覧を返す。
	ListByCompanion(ctx context.Context, companionID string) ([]*model.CompanionAssignment, error)

	// CountByCreator はクリエイターに割り当てられた論理削除されていないコンパニオン数を返す。
	CountByCreator(ctx context.Context, creatorID string) (int, error)
}

// SubscriptionRepository はリクルート（購読）の永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserAndCompanion はユーザーとコンパニオンで購読を検索する。見つからない場合はnilを返す。
	FindByUserAndCompanion(ctx context.Context, userID, companionID string) (*model.Subscription, error)

	// FindByUserAndCompanionForUpdate は行ロック付きで購読を検索する。見つからない場合はnilを返す。
	FindByUserAndCompanionForUpdate(ctx context.Context, userID, companionID string) (*model.Subscription, error)

	// Activate は購読を有効化する。(user_id, companion_id)の行が既に存在する場合は
	// 同じ行を再有効化してrecruited_atをリセットする。subのIDと集計値は保存後の値で上書きされる。
	Activate(ctx context.Context, sub *model.Subscription) error

	// Deactivate は購読を無効化する。
	Deactivate(ctx context.Context, id string) error

	// CountActiveByCompanion はコンパニオンのアクティブな購読数を返す。
	CountActiveByCompanion(ctx context.Context, companionID string) (int, error)

	// CountActiveByUser はユーザーのアクティブな購読数を返す。
	CountActiveByUser(ctx context.Context, userID string) (int, error)

	// ListActiveByUser はユーザーのアクティブな購読をコンパニオン情報付きで返す。
	ListActiveByUser(ctx context.Context, userID string) ([]*model.SubscriptionWithCompanion, error)

	// RecordInteraction はtotal_messagesを加算しlast_interaction_atを更新する。
	RecordInteraction(ctx context.Context, id string, at time.Time) error
}

// PointTransactionRepository はポイント台帳の永続化インターフェース。
type PointTransactionRepository interface {
	// Create は台帳エントリを追記する。
	Create(ctx context.Context, txn *model.PointTransaction) error

	// ListByUser はユーザーの台帳エントリを新しい順にlimit件返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.PointTransaction, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TxManager はトランザクション境界を提供する。
// fnに渡されるctxを使ったリポジトリ呼び出しは同一トランザクション内で実行される。
// fnがエラーを返した場合はロールバックする。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
