package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/assignment"
	"github.com/hitoshi/companionhub/internal/model"
)

// AssignmentServiceInterface は割り当てハンドラーが必要とするサービスインターフェース。
type AssignmentServiceInterface interface {
	Assign(ctx context.Context, actor *model.User, companionID string, req assignment.AssignRequest) (*model.CompanionAssignment, error)
	Unassign(ctx context.Context, actor *model.User, companionID, creatorID string) error
	ListByCompanion(ctx context.Context, actor *model.User, companionID string) ([]*model.CompanionAssignment, error)
}

// AssignmentHandler はクリエイター割り当てのHTTPハンドラー。
type AssignmentHandler struct {
	service AssignmentServiceInterface
}

// NewAssignmentHandler はAssignmentHandlerを生成する。
func NewAssignmentHandler(service AssignmentServiceInterface) *AssignmentHandler {
	return &AssignmentHandler{service: service}
}

// List はコンパニオンの割り当て一覧を返す。
// GET /api/companions/{id}/assignments
func (h *AssignmentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	assignments, err := h.service.ListByCompanion(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]assignmentResponse, len(assignments))
	for i, a := range assignments {
		resp[i] = toAssignmentResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Assign はクリエイターをコンパニオンに割り当てる。既存の割り当てがあればそれを返す。
// POST /api/companions/{id}/assignments
func (h *AssignmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	var req assignment.AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.Assign(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

// Unassign は割り当てを解除する。
// DELETE /api/companions/{id}/assignments/{creatorId}
func (h *AssignmentHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	if err := h.service.Unassign(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "creatorId")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
