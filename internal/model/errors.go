// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIにそのまま表示できるメッセージと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, companion, recruitment, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeCompanionNotFound    = "COMPANION_NOT_FOUND"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeAssignmentNotFound   = "ASSIGNMENT_NOT_FOUND"
	ErrCodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrCodeAlreadyRecruited     = "ALREADY_RECRUITED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeSSRFBlocked          = "SSRF_BLOCKED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeUpstreamFailure      = "UPSTREAM_FAILURE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// AsAPIError はerrがAPIErrorを含む場合にそれを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode はerrが指定コードのAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  reason,
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// reasonには必要なロールまたは関係を含める。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("Forbidden: %s", reason),
		Category: "auth",
		Action:   "Ask an administrator for the required role or assignment.",
	}
}

// NewCompanionNotFoundError はコンパニオン未検出エラーを生成する。
// 論理削除済みのコンパニオンも未検出として扱う。
func NewCompanionNotFoundError(companionID string) *APIError {
	return &APIError{
		Code:     ErrCodeCompanionNotFound,
		Message:  fmt.Sprintf("Companion not found: %s", companionID),
		Category: "companion",
		Action:   "Refresh the catalog and choose another companion.",
	}
}

// NewSubscriptionNotFoundError はアクティブな購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(companionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("You have not recruited this companion: %s", companionID),
		Category: "recruitment",
		Action:   "Recruit the companion first.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("User not found: %s", userID),
		Category: "auth",
		Action:   "Check the user ID.",
	}
}

// NewAssignmentNotFoundError は割り当てが見つからない場合のエラーを生成する。
func NewAssignmentNotFoundError(companionID, creatorID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssignmentNotFound,
		Message:  fmt.Sprintf("Creator %s is not assigned to companion %s", creatorID, companionID),
		Category: "companion",
		Action:   "Refresh the assignment list.",
	}
}

// NewInsufficientFundsError はポイント不足エラーを生成する。
func NewInsufficientFundsError(balance, cost int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientFunds,
		Message:  fmt.Sprintf("Not enough learning points: you have %d, this companion costs %d.", balance, cost),
		Category: "recruitment",
		Action:   "Earn more learning points and try again.",
	}
}

// NewAlreadyRecruitedError は既にリクルート済みの場合のエラーを生成する。
func NewAlreadyRecruitedError(companionName string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRecruited,
		Message:  fmt.Sprintf("You have already recruited %s.", companionName),
		Category: "recruitment",
		Action:   "Open your companions list to chat.",
	}
}

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the input values.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: "validation",
		Action:   "Enter an http:// or https:// URL.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "The URL points to a blocked network location.",
		Category: "validation",
		Action:   "Use a publicly reachable URL. Private and local addresses are not allowed.",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again later.",
	}
}

// NewUpstreamFailureError は外部サービス障害エラーを生成する。
func NewUpstreamFailureError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  fmt.Sprintf("%s is temporarily unavailable.", service),
		Category: "system",
		Action:   "Please try again later.",
	}
}
