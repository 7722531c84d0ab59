package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// ListUsersByRole は指定ロールのユーザー一覧を返す。roleが空の場合は全ユーザー。
	ListUsersByRole(ctx context.Context, actor *model.User, role model.Role) ([]*model.User, error)
	// RevokeSessions は指定ユーザーの全セッションを失効させる。
	RevokeSessions(ctx context.Context, actor *model.User, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。一覧は割り当て画面のクリエイター選択に使う。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// ListUsers はユーザー一覧を返す。
// GET /api/users?role=creator
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	role := model.Role(r.URL.Query().Get("role"))
	if role != "" && !role.Valid() {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("unknown role: "+string(role)))
		return
	}

	users, err := h.service.ListUsersByRole(r.Context(), actor, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RevokeSessions は指定ユーザーを強制ログアウトさせる。
// DELETE /api/users/{id}/sessions
func (h *UserHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	if err := h.service.RevokeSessions(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
