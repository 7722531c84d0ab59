package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

// RecruitmentServiceInterface はリクルートハンドラーが必要とするサービスインターフェース。
type RecruitmentServiceInterface interface {
	Recruit(ctx context.Context, actor *model.User, companionID string) (*model.RecruitResult, error)
	Unsubscribe(ctx context.Context, actor *model.User, companionID string) error
	ListMine(ctx context.Context, actor *model.User) ([]*model.SubscriptionWithCompanion, error)
	PointHistory(ctx context.Context, actor *model.User, limit int) ([]*model.PointTransaction, error)
}

// RecruitmentHandler はリクルートとポイント履歴のHTTPハンドラー。
type RecruitmentHandler struct {
	service RecruitmentServiceInterface
}

// NewRecruitmentHandler はRecruitmentHandlerを生成する。
func NewRecruitmentHandler(service RecruitmentServiceInterface) *RecruitmentHandler {
	return &RecruitmentHandler{service: service}
}

// Recruit はポイントを消費してコンパニオンをリクルートする。
// POST /api/companions/{id}/recruit
func (h *RecruitmentHandler) Recruit(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	result, err := h.service.Recruit(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recruitResponse{Success: result.Success, PointsLeft: result.PointsLeft})
}

// Unsubscribe はリクルートを解除する。ポイントは返還しない。
// DELETE /api/companions/{id}/subscription
func (h *RecruitmentHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	if err := h.service.Unsubscribe(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMine はリクルート済みコンパニオンの一覧を返す。
// GET /api/subscriptions
func (h *RecruitmentHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	subs, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]subscriptionResponse, len(subs))
	for i, s := range subs {
		resp[i] = toSubscriptionResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PointHistory はポイント台帳の履歴を新しい順に返す。
// GET /api/points/history?limit=50
func (h *RecruitmentHandler) PointHistory(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			middleware.WriteAPIError(w, model.NewInvalidRequestError("limit must be a non-negative integer"))
			return
		}
		limit = v
	}

	txns, err := h.service.PointHistory(r.Context(), actor, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]pointTransactionResponse, len(txns))
	for i, p := range txns {
		resp[i] = toPointTransactionResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}
