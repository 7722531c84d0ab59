// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/companionhub/internal/auth"
	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, req auth.LoginRequest) (*model.User, *model.Session, error)
	SignOut(ctx context.Context, sessionID string) error
	CurrentSession(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はメールアドレスとパスワードでサインインし、セッションCookieを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, session, err := h.service.SignIn(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, session.ID, session.ExpiresAt)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.service.SignOut(r.Context(), cookie.Value); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to sign out", slog.String("error", err.Error()))
		}
	}

	h.setSessionCookie(w, "", time.Time{})
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteAPIError(w, model.NewNotAuthenticatedError("authentication required"))
		return
	}

	user, err := h.service.CurrentSession(r.Context(), cookie.Value)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if user == nil {
		middleware.WriteAPIError(w, model.NewNotAuthenticatedError("session expired"))
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// setSessionCookie はHTTP OnlyのセッションCookieを設定する。
// valueが空の場合はCookieを削除する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	maxAge := -1
	if value != "" {
		maxAge = int(time.Until(expiresAt).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
