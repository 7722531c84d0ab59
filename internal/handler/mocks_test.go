package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/companionhub/internal/assignment"
	"github.com/hitoshi/companionhub/internal/auth"
	"github.com/hitoshi/companionhub/internal/catalog"
	"github.com/hitoshi/companionhub/internal/chat"
	"github.com/hitoshi/companionhub/internal/middleware"
	"github.com/hitoshi/companionhub/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signInFn         func(ctx context.Context, req auth.LoginRequest) (*model.User, *model.Session, error)
	signOutFn        func(ctx context.Context, sessionID string) error
	currentSessionFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) SignIn(ctx context.Context, req auth.LoginRequest) (*model.User, *model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, req)
	}
	return nil, nil, model.NewNotAuthenticatedError("Invalid email or password")
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentSession(ctx context.Context, sessionID string) (*model.User, error) {
	if m.currentSessionFn != nil {
		return m.currentSessionFn(ctx, sessionID)
	}
	return nil, nil
}

type mockCatalogService struct {
	listFn       func(ctx context.Context, actor *model.User, includeDeleted bool) ([]*model.Companion, error)
	getFn        func(ctx context.Context, actor *model.User, id string) (*model.Companion, error)
	createFn     func(ctx context.Context, actor *model.User, req catalog.CreateCompanionRequest) (*model.Companion, error)
	updateFn     func(ctx context.Context, actor *model.User, id string, req catalog.UpdateCompanionRequest) (*model.Companion, error)
	softDeleteFn func(ctx context.Context, actor *model.User, id string) (*model.DeleteResult, error)
	statsFn      func(ctx context.Context, actor *model.User) (*model.DashboardStats, error)
}

func (m *mockCatalogService) List(ctx context.Context, actor *model.User, includeDeleted bool) ([]*model.Companion, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, includeDeleted)
	}
	return nil, nil
}

func (m *mockCatalogService) Get(ctx context.Context, actor *model.User, id string) (*model.Companion, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actor, id)
	}
	return nil, model.NewCompanionNotFoundError(id)
}

func (m *mockCatalogService) Create(ctx context.Context, actor *model.User, req catalog.CreateCompanionRequest) (*model.Companion, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, req)
	}
	return nil, nil
}

func (m *mockCatalogService) Update(ctx context.Context, actor *model.User, id string, req catalog.UpdateCompanionRequest) (*model.Companion, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, id, req)
	}
	return nil, nil
}

func (m *mockCatalogService) SoftDelete(ctx context.Context, actor *model.User, id string) (*model.DeleteResult, error) {
	if m.softDeleteFn != nil {
		return m.softDeleteFn(ctx, actor, id)
	}
	return &model.DeleteResult{Success: true}, nil
}

func (m *mockCatalogService) Stats(ctx context.Context, actor *model.User) (*model.DashboardStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, actor)
	}
	return &model.DashboardStats{Role: actor.Role}, nil
}

type mockAssignmentService struct {
	assignFn   func(ctx context.Context, actor *model.User, companionID string, req assignment.AssignRequest) (*model.CompanionAssignment, error)
	unassignFn func(ctx context.Context, actor *model.User, companionID, creatorID string) error
	listFn     func(ctx context.Context, actor *model.User, companionID string) ([]*model.CompanionAssignment, error)
}

func (m *mockAssignmentService) Assign(ctx context.Context, actor *model.User, companionID string, req assignment.AssignRequest) (*model.CompanionAssignment, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, actor, companionID, req)
	}
	return &model.CompanionAssignment{CompanionID: companionID, CreatorID: req.CreatorID, AssignedBy: actor.ID}, nil
}

func (m *mockAssignmentService) Unassign(ctx context.Context, actor *model.User, companionID, creatorID string) error {
	if m.unassignFn != nil {
		return m.unassignFn(ctx, actor, companionID, creatorID)
	}
	return nil
}

func (m *mockAssignmentService) ListByCompanion(ctx context.Context, actor *model.User, companionID string) ([]*model.CompanionAssignment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, companionID)
	}
	return nil, nil
}

type mockRecruitmentService struct {
	recruitFn      func(ctx context.Context, actor *model.User, companionID string) (*model.RecruitResult, error)
	unsubscribeFn  func(ctx context.Context, actor *model.User, companionID string) error
	listMineFn     func(ctx context.Context, actor *model.User) ([]*model.SubscriptionWithCompanion, error)
	pointHistoryFn func(ctx context.Context, actor *model.User, limit int) ([]*model.PointTransaction, error)
}

func (m *mockRecruitmentService) Recruit(ctx context.Context, actor *model.User, companionID string) (*model.RecruitResult, error) {
	if m.recruitFn != nil {
		return m.recruitFn(ctx, actor, companionID)
	}
	return &model.RecruitResult{Success: true}, nil
}

func (m *mockRecruitmentService) Unsubscribe(ctx context.Context, actor *model.User, companionID string) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, actor, companionID)
	}
	return nil
}

func (m *mockRecruitmentService) ListMine(ctx context.Context, actor *model.User) ([]*model.SubscriptionWithCompanion, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockRecruitmentService) PointHistory(ctx context.Context, actor *model.User, limit int) ([]*model.PointTransaction, error) {
	if m.pointHistoryFn != nil {
		return m.pointHistoryFn(ctx, actor, limit)
	}
	return nil, nil
}

type mockChatService struct {
	greetFn func(ctx context.Context, actor *model.User, companionID string) (*model.ChatReply, error)
	sendFn  func(ctx context.Context, actor *model.User, companionID string, req chat.SendRequest) (*model.ChatReply, error)
}

func (m *mockChatService) Greet(ctx context.Context, actor *model.User, companionID string) (*model.ChatReply, error) {
	if m.greetFn != nil {
		return m.greetFn(ctx, actor, companionID)
	}
	return &model.ChatReply{CompanionID: companionID}, nil
}

func (m *mockChatService) Send(ctx context.Context, actor *model.User, companionID string, req chat.SendRequest) (*model.ChatReply, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, actor, companionID, req)
	}
	return &model.ChatReply{CompanionID: companionID}, nil
}

type mockUserService struct {
	listFn   func(ctx context.Context, actor *model.User, role model.Role) ([]*model.User, error)
	revokeFn func(ctx context.Context, actor *model.User, userID string) error
}

func (m *mockUserService) RevokeSessions(ctx context.Context, actor *model.User, userID string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, actor, userID)
	}
	return nil
}

func (m *mockUserService) ListUsersByRole(ctx context.Context, actor *model.User, role model.Role) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, role)
	}
	return nil, nil
}

// --- ヘルパー ---

var (
	testStudent    = &model.User{ID: "student-1", Username: "student", Role: model.RoleStudent, LearningPoints: 2000}
	testCreator    = &model.User{ID: "creator-1", Username: "creator", Role: model.RoleCreator}
	testAdmin      = &model.User{ID: "admin-1", Username: "admin", Role: model.RoleAdmin}
	testSuperAdmin = &model.User{ID: "super-1", Username: "superadmin", Role: model.RoleSuperAdmin}
)

// serveAs はactorを注入したリクエストをpatternに登録したハンドラーで処理する。
// chi.URLParamを解決するためにchi.Routerを経由する。
func serveAs(actor *model.User, method, pattern, target, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor != nil {
		req = req.WithContext(middleware.ContextWithUser(req.Context(), actor))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
