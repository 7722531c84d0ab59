package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/companionhub/internal/assignment"
	"github.com/hitoshi/companionhub/internal/auth"
	"github.com/hitoshi/companionhub/internal/catalog"
	"github.com/hitoshi/companionhub/internal/chat"
	"github.com/hitoshi/companionhub/internal/conversation"
	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/recruitment"
	"github.com/hitoshi/companionhub/internal/repository/memory"
	"github.com/hitoshi/companionhub/internal/security"
	"github.com/hitoshi/companionhub/internal/seed"
)

type echoGateway struct{}

func (echoGateway) Chat(ctx context.Context, companionName, roleDescription, userMessage string) conversation.Reply {
	return conversation.Reply{Text: companionName + " heard: " + userMessage}
}

// newIntegrationServer はメモリストア上の実サービスでルーター全体を構成し、初期データを投入する。
func newIntegrationServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.New()
	authSvc := auth.NewService(store.Users(), store.Sessions(), auth.ServiceConfig{
		SessionMaxAge: time.Hour,
		BcryptCost:    bcrypt.MinCost,
	})
	assignSvc := assignment.NewService(store.Assignments(), store.Companions(), store.Users())

	fixture, err := seed.Load("")
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if _, err := seed.NewSeeder(authSvc, store.Users(), store.Companions(), store.Assignments()).Run(context.Background(), fixture); err != nil {
		t.Fatalf("seed: %v", err)
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		SessionResolver: authSvc,
		RateLimiter:     limiter,
		AuthService:     authSvc,
		CatalogService: catalog.NewService(catalog.Deps{
			Companions:    store.Companions(),
			Subscriptions: store.Subscriptions(),
			Users:         store.Users(),
			Assignments:   store.Assignments(),
			Checker:       assignSvc,
			Tx:            store,
			Sanitizer:     security.NewContentSanitizer(),
			SSRFGuard:     security.NewSSRFGuard(),
		}),
		AssignmentService:  assignSvc,
		RecruitmentService: recruitment.NewService(store.Users(), store.Companions(), store.Subscriptions(), store.PointTransactions(), store, nil),
		ChatService:        chat.NewService(store.Companions(), store.Subscriptions(), echoGateway{}, nil),
		UserService:        authSvc,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// apiClient はCookieとCSRFトークンを保持するテスト用クライアント。
type apiClient struct {
	t     *testing.T
	base  string
	http  *http.Client
	token string
}

func newAPIClient(t *testing.T, srv *httptest.Server) *apiClient {
	t.Helper()
	jar, _ := cookiejar.New(nil)
	c := &apiClient{t: t, base: srv.URL, http: &http.Client{Jar: jar}}

	var body map[string]string
	c.do(http.MethodGet, "/api/csrf-token", "", http.StatusOK, &body)
	c.token = body["token"]
	if c.token == "" {
		t.Fatal("empty CSRF token")
	}
	return c
}

func (c *apiClient) do(method, path, body string, wantStatus int, out any) {
	c.t.Helper()

	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, c.base+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, c.base+path, nil)
	}
	if c.token != "" {
		req.Header.Set("X-CSRF-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		c.t.Fatalf("%s %s: status = %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func (c *apiClient) login(email string) {
	c.t.Helper()
	c.do(http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"password123"}`, http.StatusOK, nil)
}

func findCompanion(t *testing.T, list []companionResponse, name string) companionResponse {
	t.Helper()
	for _, c := range list {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("companion %q not found", name)
	return companionResponse{}
}

func TestIntegration_RecruitChatAndDeleteBlocked(t *testing.T) {
	srv := newIntegrationServer(t)

	student := newAPIClient(t, srv)
	student.login("student@companionhub.local")

	var companions []companionResponse
	student.do(http.MethodGet, "/api/companions", "", http.StatusOK, &companions)
	sophie := findCompanion(t, companions, "Sophie")

	// 購読前のチャットは拒否される
	student.do(http.MethodPost, "/api/companions/"+sophie.ID+"/chat", `{"message":"hello"}`, http.StatusNotFound, nil)

	var recruited recruitResponse
	student.do(http.MethodPost, "/api/companions/"+sophie.ID+"/recruit", "", http.StatusOK, &recruited)
	if !recruited.Success || recruited.PointsLeft != 1500 {
		t.Errorf("recruit = %+v, want pointsLeft 1500", recruited)
	}

	// 二重リクルートはポイントを消費しない
	student.do(http.MethodPost, "/api/companions/"+sophie.ID+"/recruit", "", http.StatusConflict, nil)

	var reply chatReplyResponse
	student.do(http.MethodPost, "/api/companions/"+sophie.ID+"/chat", `{"message":"hello"}`, http.StatusOK, &reply)
	if reply.Reply != "Sophie heard: hello" || reply.Fallback {
		t.Errorf("reply = %+v", reply)
	}

	var history []pointTransactionResponse
	student.do(http.MethodGet, "/api/points/history", "", http.StatusOK, &history)
	if len(history) != 1 || history[0].Amount != -500 || history[0].BalanceAfter != 1500 {
		t.Errorf("history = %+v", history)
	}

	var dash dashboardResponse
	student.do(http.MethodGet, "/api/dashboard", "", http.StatusOK, &dash)
	if dash.ActiveRecruits == nil || *dash.ActiveRecruits != 1 || dash.TotalCompanions != nil {
		t.Errorf("student dashboard = %+v", dash)
	}

	admin := newAPIClient(t, srv)
	admin.login("admin@companionhub.local")

	var del deleteResponse
	admin.do(http.MethodDelete, "/api/companions/"+sophie.ID, "", http.StatusConflict, &del)
	if del.Success || del.Warning == "" {
		t.Errorf("delete = %+v, want blocked with warning", del)
	}

	// 購読解除後は削除できる
	student.do(http.MethodDelete, "/api/companions/"+sophie.ID+"/subscription", "", http.StatusNoContent, nil)
	admin.do(http.MethodDelete, "/api/companions/"+sophie.ID, "", http.StatusOK, &del)
	if !del.Success {
		t.Errorf("delete = %+v, want success", del)
	}

	student.do(http.MethodGet, "/api/companions/"+sophie.ID, "", http.StatusNotFound, nil)
}

func TestIntegration_InsufficientFunds(t *testing.T) {
	srv := newIntegrationServer(t)

	admin := newAPIClient(t, srv)
	admin.login("admin@companionhub.local")
	var nova companionResponse
	admin.do(http.MethodPost, "/api/companions",
		`{"name":"Nova","role":"Science Guide","category":"Science","avatar":"🚀","colorClass":"av-purple","cost":1000}`,
		http.StatusCreated, &nova)

	student := newAPIClient(t, srv)
	student.login("student@companionhub.local")

	var companions []companionResponse
	student.do(http.MethodGet, "/api/companions", "", http.StatusOK, &companions)

	// 2000pt から David(750) と Sophie(500) を引くと残り750pt
	student.do(http.MethodPost, "/api/companions/"+findCompanion(t, companions, "David").ID+"/recruit", "", http.StatusOK, nil)
	student.do(http.MethodPost, "/api/companions/"+findCompanion(t, companions, "Sophie").ID+"/recruit", "", http.StatusOK, nil)

	var errBody middleware.ErrorResponseBody
	student.do(http.MethodPost, "/api/companions/"+nova.ID+"/recruit", "", http.StatusPaymentRequired, &errBody)
	if errBody.Code != "INSUFFICIENT_FUNDS" {
		t.Errorf("code = %q", errBody.Code)
	}

	var me userResponse
	student.do(http.MethodGet, "/auth/me", "", http.StatusOK, &me)
	if me.LearningPoints != 750 {
		t.Errorf("learningPoints = %d, want 750", me.LearningPoints)
	}

	var subs []subscriptionResponse
	student.do(http.MethodGet, "/api/subscriptions", "", http.StatusOK, &subs)
	if len(subs) != 2 {
		t.Errorf("subscriptions = %d, want 2", len(subs))
	}
}

func TestIntegration_AuthBoundaries(t *testing.T) {
	srv := newIntegrationServer(t)

	anon := newAPIClient(t, srv)
	anon.do(http.MethodGet, "/api/companions", "", http.StatusUnauthorized, nil)
	anon.do(http.MethodGet, "/health", "", http.StatusOK, nil)

	// CSRFトークンなしのログインは拒否される
	anon.token = ""
	anon.do(http.MethodPost, "/auth/login", `{"email":"student@companionhub.local","password":"password123"}`, http.StatusForbidden, nil)

	student := newAPIClient(t, srv)
	student.login("student@companionhub.local")
	student.do(http.MethodPost, "/api/companions", `{"name":"Nova","role":"Science Guide","cost":300}`, http.StatusForbidden, nil)
	student.do(http.MethodGet, "/api/users?role=creator", "", http.StatusForbidden, nil)

	student.do(http.MethodPost, "/auth/logout", "", http.StatusNoContent, nil)
	student.do(http.MethodGet, "/api/companions", "", http.StatusUnauthorized, nil)
}

func TestIntegration_AdminRevokesSessions(t *testing.T) {
	srv := newIntegrationServer(t)

	student := newAPIClient(t, srv)
	student.login("student@companionhub.local")
	var me userResponse
	student.do(http.MethodGet, "/auth/me", "", http.StatusOK, &me)

	// 学生は他人のセッションを失効できない
	student.do(http.MethodDelete, "/api/users/"+me.ID+"/sessions", "", http.StatusForbidden, nil)

	admin := newAPIClient(t, srv)
	admin.login("admin@companionhub.local")
	admin.do(http.MethodDelete, "/api/users/"+me.ID+"/sessions", "", http.StatusNoContent, nil)
	admin.do(http.MethodDelete, "/api/users/no-such-user/sessions", "", http.StatusNotFound, nil)

	student.do(http.MethodGet, "/api/companions", "", http.StatusUnauthorized, nil)
	admin.do(http.MethodGet, "/api/companions", "", http.StatusOK, nil)
}
