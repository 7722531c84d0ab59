package model

import "time"

// CompanionStatus はコンパニオンのライフサイクル状態を表す。
// deletedは終端状態で、以後の変更は受け付けない。
type CompanionStatus string

const (
	// CompanionStatusActive は公開中の状態。
	CompanionStatusActive CompanionStatus = "active"
	// CompanionStatusInactive は非公開だがリクルート済みユーザーは利用できる状態。
	CompanionStatusInactive CompanionStatus = "inactive"
	// CompanionStatusDeleted は論理削除済みの状態。
	CompanionStatusDeleted CompanionStatus = "deleted"
)

// カテゴリ
var Categories = []string{"English", "Maths", "Chinese", "Science", "History", "Other"}

// アバター背景色のクラス
var ColorClasses = []string{"av-blue", "av-orange", "av-red", "av-green", "av-purple", "av-pink"}

// CompanionStats はコンパニオンの集計値を表す。
// CurrentSubscribers <= TotalSubscribersEver を常に満たす。
type CompanionStats struct {
	Rating               float64
	CurrentSubscribers   int
	TotalSubscribersEver int
}

// Companion はカタログに掲載されるAIコンパニオンを表す。
type Companion struct {
	ID              string
	Name            string
	RoleDescription string
	Category        string
	AvatarEmoji     string
	ColorClass      string
	CostPoints      int
	Description     string
	Quote           string
	DifyPromptLink  string
	DifyAPIKey      string
	Remarks         string
	Status          CompanionStatus
	Stats           CompanionStats
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive は公開中かどうかを返す。
func (c *Companion) IsActive() bool {
	return c.Status == CompanionStatusActive
}

// IsDeleted は論理削除済みかどうかを返す。
func (c *Companion) IsDeleted() bool {
	return c.Status == CompanionStatusDeleted
}

// CompanionAssignment はクリエイターと編集可能なコンパニオンの紐付けを表す。
type CompanionAssignment struct {
	ID          string    `db:"id"`
	CompanionID string    `db:"companion_id"`
	CreatorID   string    `db:"creator_id"`
	AssignedBy  string    `db:"assigned_by"`
	AssignedAt  time.Time `db:"assigned_at"`
}

// DeleteResult は論理削除の結果を表す。
// アクティブな購読者がいる場合はSuccess=falseとWarningを返し、エラーにはしない。
type DeleteResult struct {
	Success bool
	Warning string
}

// DashboardStats はロールごとのダッシュボード集計値を表す。
type DashboardStats struct {
	Role               Role
	TotalCompanions    int
	TotalSubscribers   int
	AssignedCompanions int
	ActiveRecruits     int
	LearningPoints     int
}
