package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/model"
)

// TestRouterIntegration_CSRFTokenEndpoint はCSRFトークン取得エンドポイントが
// chi.Routerで正しく動作することを検証する。
func TestRouterIntegration_CSRFTokenEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/csrf-token", NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}

// TestRouterIntegration_ProtectedRoute_WithMiddlewareChain は
// Recovery -> Session -> CSRF -> RateLimit のチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ProtectedRoute_WithMiddlewareChain(t *testing.T) {
	resolver := &mockSessionResolver{
		currentSessionFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "router-test-session" {
				return &model.User{ID: "user-router-test", Role: model.RoleAdmin}, nil
			}
			return nil, nil
		},
	}
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	csrfConfig := CSRFConfig{}
	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(resolver))
		r.Use(NewCSRFMiddleware(csrfConfig))
		r.Use(rl.GeneralMiddleware())

		r.Get("/api/protected", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
		r.Post("/api/action", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "action": "done"})
		})
		r.Get("/api/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})

	withSession := func(req *http.Request) *http.Request {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "router-test-session"})
		return req
	}

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"GET_protected_with_session", func() *http.Request {
			return withSession(httptest.NewRequest(http.MethodGet, "/api/protected", nil))
		}, http.StatusOK},
		{"GET_protected_no_session", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/protected", nil)
		}, http.StatusUnauthorized},
		{"POST_action_with_session_and_csrf", func() *http.Request {
			req := withSession(httptest.NewRequest(http.MethodPost, "/api/action", nil))
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf-token"})
			req.Header.Set(csrfHeaderName, "test-csrf-token")
			return req
		}, http.StatusOK},
		{"POST_action_without_csrf", func() *http.Request {
			return withSession(httptest.NewRequest(http.MethodPost, "/api/action", nil))
		}, http.StatusForbidden},
		// CSRFチェックの前にセッションチェック
		{"POST_action_no_session", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/action", nil)
		}, http.StatusUnauthorized},
		{"CSRF_token_endpoint_no_auth", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		}, http.StatusOK},
		{"panic_recovered", func() *http.Request {
			return withSession(httptest.NewRequest(http.MethodGet, "/api/panic", nil))
		}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, tt.req())
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}
