package model

import "time"

// Subscription はユーザーとコンパニオンのリクルート関係を表す。
// (UserID, CompanionID) ごとに1行のみ存在し、再リクルート時は同じ行を再有効化する。
type Subscription struct {
	ID                string     `db:"id"`
	UserID            string     `db:"user_id"`
	CompanionID       string     `db:"companion_id"`
	RecruitedAt       time.Time  `db:"recruited_at"`
	IsActive          bool       `db:"is_active"`
	TotalMessages     int        `db:"total_messages"`
	LastInteractionAt *time.Time `db:"last_interaction_at"`
}

// SubscriptionWithCompanion は購読とコンパニオン情報を結合した構造体。
type SubscriptionWithCompanion struct {
	Subscription
	Companion Companion
}

// RecruitResult はリクルート成功時の結果を表す。
type RecruitResult struct {
	Success    bool
	PointsLeft int
}

// PointTransactionType はポイント変動の種別を表す。
type PointTransactionType string

const (
	// PointTransactionRecruit はリクルートによる消費。
	PointTransactionRecruit PointTransactionType = "recruit"
	// PointTransactionGrant は付与。
	PointTransactionGrant PointTransactionType = "grant"
)

// PointTransaction はポイント台帳の1エントリを表す。
// Amountは消費時に負の値となる。
type PointTransaction struct {
	ID           string               `db:"id"`
	UserID       string               `db:"user_id"`
	Amount       int                  `db:"amount"`
	Type         PointTransactionType `db:"type"`
	Reference    string               `db:"reference"`
	BalanceAfter int                  `db:"balance_after"`
	CreatedAt    time.Time            `db:"created_at"`
}

// ChatReply はチャット応答を表す。
type ChatReply struct {
	CompanionID string
	Reply       string
	Fallback    bool
	SentAt      time.Time
}
