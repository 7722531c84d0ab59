package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hitoshi/companionhub/internal/metrics"
	"github.com/hitoshi/companionhub/internal/model"
)

// logRequest はロギングミドルウェア越しにハンドラーを実行し、1行のJSONログを返す。
func logRequest(t *testing.T, method, path string, h http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	NewLoggingMiddleware(logger)(h).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_RequestFields(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		handler    http.HandlerFunc
		wantStatus float64
	}{
		{"一覧", http.MethodGet, "/api/companions", func(w http.ResponseWriter, r *http.Request) {}, 200},
		{"作成", http.MethodPost, "/api/companions", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }, 201},
		{"ポイント不足", http.MethodPost, "/api/companions/c1/recruit", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusPaymentRequired) }, 402},
		{"削除ブロック", http.MethodDelete, "/api/companions/c1", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusConflict) }, 409},
		{"内部エラー", http.MethodGet, "/api/dashboard", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, 500},
		// WriteHeaderなしのWriteは暗黙の200
		{"ボディのみ", http.MethodGet, "/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := logRequest(t, tt.method, tt.path, tt.handler)

			if entry["method"] != tt.method || entry["path"] != tt.path {
				t.Errorf("method/path = %v %v", entry["method"], entry["path"])
			}
			if entry["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %v", entry["status"], tt.wantStatus)
			}
			if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
				t.Errorf("duration_ms = %v", entry["duration_ms"])
			}
		})
	}
}

// TestLoggingMiddleware_IncludesUserID はユーザーIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/companions", nil)
	req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: "user-123", Role: model.RoleCreator}))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "user-123")
	}
	if entry["role"] != "creator" {
		t.Errorf("role = %q, want %q", entry["role"], "creator")
	}
}

func TestLoggingMiddleware_AnonymousHasNoUserID(t *testing.T) {
	entry := logRequest(t, http.MethodGet, "/api/csrf-token", func(w http.ResponseWriter, r *http.Request) {})
	if val, ok := entry["user_id"]; ok && val != "" {
		t.Errorf("user_id = %v, want empty", val)
	}
}

// TestLoggingMiddleware_UserFromInnerSession はログ出力より内側のセッションミドルウェアで
// 解決されたユーザーがログに含まれることを検証する。
func TestLoggingMiddleware_UserFromInnerSession(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	resolver := &mockSessionResolver{
		currentSessionFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: "user-inner", Role: model.RoleStudent}, nil
		},
	}

	handler := NewLoggingMiddleware(logger)(NewSessionMiddleware(resolver)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["user_id"] != "user-inner" {
		t.Errorf("user_id = %v, want user-inner", entry["user_id"])
	}
	if entry["role"] != "student" {
		t.Errorf("role = %v, want student", entry["role"])
	}
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	handler := NewMetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/companions/c1/recruit", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "companionhub_http_status_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == "402" && m.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected status_code=402 counted once")
	}
	if n, err := testutil.GatherAndCount(reg, "companionhub_http_status_total"); err != nil || n != 1 {
		t.Errorf("series = %d, %v; want 1", n, err)
	}
}
