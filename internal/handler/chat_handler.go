package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/chat"
	"github.com/hitoshi/companionhub/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Greet(ctx context.Context, actor *model.User, companionID string) (*model.ChatReply, error)
	Send(ctx context.Context, actor *model.User, companionID string, req chat.SendRequest) (*model.ChatReply, error)
}

// ChatHandler はコンパニオンとのチャットのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

// Greeting はチャット開始時の挨拶を返す。
// GET /api/companions/{id}/greeting
func (h *ChatHandler) Greeting(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	reply, err := h.service.Greet(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatReplyResponse(reply))
}

// Chat はメッセージを送信し、コンパニオンの応答を返す。
// LLM呼び出しに失敗した場合もフォールバック応答を200で返す。
// POST /api/companions/{id}/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(w, r)
	if actor == nil {
		return
	}

	var req chat.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.service.Send(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatReplyResponse(reply))
}
