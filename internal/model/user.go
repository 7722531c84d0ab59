// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleStudent はコンパニオンをリクルートして会話する一般ユーザー。
	RoleStudent Role = "student"
	// RoleCreator は割り当てられたコンパニオンを編集できるユーザー。
	RoleCreator Role = "creator"
	// RoleAdmin はカタログと割り当てを管理するユーザー。
	RoleAdmin Role = "admin"
	// RoleSuperAdmin は削除を含む全操作が可能なユーザー。
	RoleSuperAdmin Role = "super_admin"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCreator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin はadminまたはsuper_adminかどうかを返す。
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User はサービス利用ユーザーを表す。
// LearningPointsはリクルート時に消費され、0未満にはならない。
type User struct {
	ID             string    `db:"id"`
	Username       string    `db:"username"`
	Email          string    `db:"email"`
	PasswordHash   string    `db:"password_hash"`
	Role           Role      `db:"role"`
	LearningPoints int       `db:"learning_points"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
