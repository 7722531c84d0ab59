package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/companionhub/internal/chat"
	"github.com/hitoshi/companionhub/internal/model"
)

func TestChatHandler_Chat(t *testing.T) {
	var got chat.SendRequest
	h := NewChatHandler(&mockChatService{
		sendFn: func(ctx context.Context, actor *model.User, companionID string, req chat.SendRequest) (*model.ChatReply, error) {
			got = req
			return &model.ChatReply{CompanionID: companionID, Reply: "Hello! Shall we start?", SentAt: time.Now()}, nil
		},
	})

	w := serveAs(testStudent, http.MethodPost, "/api/companions/{id}/chat", "/api/companions/c-sophie/chat", `{"message":"Hi Sophie"}`, h.Chat)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Message != "Hi Sophie" {
		t.Errorf("message = %q", got.Message)
	}

	var body chatReplyResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Reply != "Hello! Shall we start?" || body.Fallback || body.CompanionID != "c-sophie" {
		t.Errorf("body = %+v", body)
	}
}

func TestChatHandler_Chat_NotSubscribed_Returns404(t *testing.T) {
	h := NewChatHandler(&mockChatService{
		sendFn: func(ctx context.Context, actor *model.User, companionID string, req chat.SendRequest) (*model.ChatReply, error) {
			return nil, model.NewSubscriptionNotFoundError(companionID)
		},
	})

	w := serveAs(testStudent, http.MethodPost, "/api/companions/{id}/chat", "/api/companions/c-david/chat", `{"message":"Hi"}`, h.Chat)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChatHandler_Greeting(t *testing.T) {
	h := NewChatHandler(&mockChatService{
		greetFn: func(ctx context.Context, actor *model.User, companionID string) (*model.ChatReply, error) {
			return &model.ChatReply{CompanionID: companionID, Reply: "Hi there! I'm Sophie."}, nil
		},
	})

	w := serveAs(testStudent, http.MethodGet, "/api/companions/{id}/greeting", "/api/companions/c-sophie/greeting", "", h.Greeting)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body chatReplyResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Reply != "Hi there! I'm Sophie." {
		t.Errorf("reply = %q", body.Reply)
	}
}
