package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/catalog"
	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

// CatalogServiceInterface はコンパニオンハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	List(ctx context.Context, actor *model.User, includeDeleted bool) ([]*model.Companion, error)
	Get(ctx context.Context, actor *model.User, id string) (*model.Companion, error)
	Create(ctx context.Context, actor *model.User, req catalog.CreateCompanionRequest) (*model.Companion, error)
	Update(ctx context.Context, actor *model.User, id string, req catalog.UpdateCompanionRequest) (*model.Companion, error)
	SoftDelete(ctx context.Context, actor *model.User, id string) (*model.DeleteResult, error)
	Stats(ctx context.Context, actor *model.User) (*model.DashboardStats, error)
}

// CompanionHandler はカタログ管理のHTTPハンドラー。
type CompanionHandler struct {
	service CatalogServiceInterface
}

// NewCompanionHandler はCompanionHandlerを生成する。
func NewCompanionHandler(service CatalogServiceInterface) *CompanionHandler {
	return &CompanionHandler{service: service}
}

// List はコンパニオン一覧を返す。
// GET /api/companions?includeDeleted=true
func (h *CompanionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	includeDeleted := false
	if raw := r.URL.Query().Get("includeDeleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			middleware.WriteAPIError(w, model.NewInvalidRequestError("includeDeleted must be a boolean"))
			return
		}
		includeDeleted = v
	}

	companions, err := h.service.List(r.Context(), actor, includeDeleted)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanionResponses(companions))
}

// Get はコンパニオン詳細を返す。
// GET /api/companions/{id}
func (h *CompanionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	c, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanionResponse(c))
}

// Create はコンパニオンを作成する。
// POST /api/companions
func (h *CompanionHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	var req catalog.CreateCompanionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanionResponse(c))
}

// Update はコンパニオンを部分更新する。
// PATCH /api/companions/{id}
func (h *CompanionHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	var req catalog.UpdateCompanionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanionResponse(c))
}

// Delete はコンパニオンを論理削除する。
// アクティブな購読者がいる場合は409と警告を返す。
// DELETE /api/companions/{id}
func (h *CompanionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	result, err := h.service.SoftDelete(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, deleteResponse{Success: result.Success, Warning: result.Warning})
}

// Dashboard はロールごとの集計値を返す。
// GET /api/dashboard
func (h *CompanionHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardResponse(stats))
}
