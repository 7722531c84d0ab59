package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/repository"
	"github.com/hitoshi/companionhub/internal/repository/memory"
)

// --- モック定義 ---

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

var _ repository.SessionRepository = (*mockSessionRepo)(nil)

// --- ヘルパー ---

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewService(store.Users(), store.Sessions(), ServiceConfig{
		SessionMaxAge: time.Hour,
		BcryptCost:    bcrypt.MinCost,
	})
	return svc, store
}

func createUser(t *testing.T, svc *Service, email string, role model.Role) *model.User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Username: "user-" + string(role), Email: email, Password: "correct horse", Role: role, LearningPoints: 2000,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// --- テスト ---

func TestCreateUser_HashesPassword(t *testing.T) {
	svc, _ := newService(t)

	u := createUser(t, svc, "alice@example.com", model.RoleStudent)

	if u.PasswordHash == "correct horse" || u.PasswordHash == "" {
		t.Fatalf("password should be hashed, got %q", u.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct horse")); err != nil {
		t.Errorf("hash does not match password: %v", err)
	}
	if u.LearningPoints != 2000 {
		t.Errorf("LearningPoints = %d, want 2000", u.LearningPoints)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc, _ := newService(t)
	createUser(t, svc, "taken@example.com", model.RoleStudent)

	tests := []struct {
		name string
		req  CreateUserRequest
	}{
		{"重複メール", CreateUserRequest{Username: "x", Email: "TAKEN@example.com", Password: "password1", Role: model.RoleStudent}},
		{"不正なメール", CreateUserRequest{Username: "x", Email: "nope", Password: "password1", Role: model.RoleStudent}},
		{"短いパスワード", CreateUserRequest{Username: "x", Email: "a@example.com", Password: "short", Role: model.RoleStudent}},
		{"不明なロール", CreateUserRequest{Username: "x", Email: "b@example.com", Password: "password1", Role: "wizard"}},
		{"負のポイント", CreateUserRequest{Username: "x", Email: "c@example.com", Password: "password1", Role: model.RoleStudent, LearningPoints: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUser(context.Background(), tt.req)
			if !model.IsCode(err, model.ErrCodeInvalidRequest) {
				t.Errorf("error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestSignIn_Success(t *testing.T) {
	svc, _ := newService(t)
	created := createUser(t, svc, "alice@example.com", model.RoleStudent)

	user, session, err := svc.SignIn(context.Background(), LoginRequest{Email: " alice@example.com ", Password: "correct horse"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("user ID = %s, want %s", user.ID, created.ID)
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
	if d := session.ExpiresAt.Sub(session.CreatedAt); d != time.Hour {
		t.Errorf("session lifetime = %v, want 1h", d)
	}

	current, err := svc.CurrentSession(context.Background(), session.ID)
	if err != nil || current == nil || current.ID != created.ID {
		t.Errorf("CurrentSession = %+v, %v", current, err)
	}
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	svc, _ := newService(t)
	createUser(t, svc, "alice@example.com", model.RoleStudent)

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"パスワード不一致", LoginRequest{Email: "alice@example.com", Password: "wrong"}},
		{"未登録メール", LoginRequest{Email: "bob@example.com", Password: "correct horse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SignIn(context.Background(), tt.req)
			apiErr, ok := model.AsAPIError(err)
			if !ok || apiErr.Code != model.ErrCodeNotAuthenticated {
				t.Fatalf("error = %v, want NOT_AUTHENTICATED", err)
			}
			if apiErr.Message != "Invalid email or password" {
				t.Errorf("Message = %q", apiErr.Message)
			}
		})
	}

	if _, _, err := svc.SignIn(context.Background(), LoginRequest{Email: "", Password: ""}); !model.IsCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("empty request error = %v, want INVALID_REQUEST", err)
	}
}

func TestSignIn_SessionSaveError(t *testing.T) {
	store := memory.New()
	sessions := &mockSessionRepo{createFn: func(context.Context, *model.Session) error { return errors.New("db down") }}
	svc := NewService(store.Users(), sessions, ServiceConfig{SessionMaxAge: time.Hour, BcryptCost: bcrypt.MinCost})
	createUser(t, svc, "alice@example.com", model.RoleStudent)

	_, _, err := svc.SignIn(context.Background(), LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := model.AsAPIError(err); ok {
		t.Errorf("storage failure should not be an APIError: %v", err)
	}
}

func TestSignOut(t *testing.T) {
	svc, _ := newService(t)
	createUser(t, svc, "alice@example.com", model.RoleStudent)
	_, session, err := svc.SignIn(context.Background(), LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if err := svc.SignOut(context.Background(), session.ID); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	current, err := svc.CurrentSession(context.Background(), session.ID)
	if err != nil || current != nil {
		t.Errorf("CurrentSession after sign out = %+v, %v", current, err)
	}

	if err := svc.SignOut(context.Background(), ""); err != nil {
		t.Errorf("SignOut(\"\") = %v", err)
	}
}

func TestCurrentSession_ExpiredOrMissing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := &mockSessionRepo{findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
		if id == "expired" {
			return &model.Session{ID: id, UserID: "u-1", ExpiresAt: now}, nil
		}
		return nil, nil
	}}
	store := memory.New()
	svc := NewService(store.Users(), sessions, ServiceConfig{SessionMaxAge: time.Hour, BcryptCost: bcrypt.MinCost})
	svc.now = func() time.Time { return now }

	for _, id := range []string{"", "expired", "missing"} {
		u, err := svc.CurrentSession(context.Background(), id)
		if err != nil || u != nil {
			t.Errorf("CurrentSession(%q) = %+v, %v; want nil, nil", id, u, err)
		}
	}
}

func TestCurrentSession_RepositoryError(t *testing.T) {
	sessions := &mockSessionRepo{findByIDFn: func(context.Context, string) (*model.Session, error) {
		return nil, errors.New("redis down")
	}}
	svc := NewService(memory.New().Users(), sessions, ServiceConfig{SessionMaxAge: time.Hour, BcryptCost: bcrypt.MinCost})

	if _, err := svc.CurrentSession(context.Background(), "abc"); err == nil {
		t.Error("expected error")
	}
}

func TestListUsersByRole(t *testing.T) {
	svc, _ := newService(t)
	admin := createUser(t, svc, "admin@example.com", model.RoleAdmin)
	creator := createUser(t, svc, "creator@example.com", model.RoleCreator)
	student := createUser(t, svc, "student@example.com", model.RoleStudent)
	ctx := context.Background()

	creators, err := svc.ListUsersByRole(ctx, admin, model.RoleCreator)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creators) != 1 || creators[0].ID != creator.ID {
		t.Errorf("creators = %+v", creators)
	}

	all, err := svc.ListUsersByRole(ctx, admin, "")
	if err != nil || len(all) != 3 {
		t.Errorf("all = %d, %v; want 3", len(all), err)
	}

	if _, err := svc.ListUsersByRole(ctx, student, model.RoleCreator); !model.IsCode(err, model.ErrCodeForbidden) {
		t.Errorf("student error = %v, want FORBIDDEN", err)
	}
	if _, err := svc.ListUsersByRole(ctx, admin, "wizard"); !model.IsCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("bad role error = %v, want INVALID_REQUEST", err)
	}
}

func TestRevokeSessions(t *testing.T) {
	svc, _ := newService(t)
	admin := createUser(t, svc, "admin@example.com", model.RoleAdmin)
	student := createUser(t, svc, "student@example.com", model.RoleStudent)
	ctx := context.Background()

	var sessions []*model.Session
	for i := 0; i < 2; i++ {
		_, s, err := svc.SignIn(ctx, LoginRequest{Email: "student@example.com", Password: "correct horse"})
		if err != nil {
			t.Fatalf("sign in: %v", err)
		}
		sessions = append(sessions, s)
	}
	_, adminSession, err := svc.SignIn(ctx, LoginRequest{Email: "admin@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("sign in admin: %v", err)
	}

	// 学生は他人のセッションを失効できない
	if err := svc.RevokeSessions(ctx, student, admin.ID); !model.IsCode(err, model.ErrCodeForbidden) {
		t.Errorf("student revoke = %v, want FORBIDDEN", err)
	}
	if err := svc.RevokeSessions(ctx, admin, "no-such-user"); !model.IsCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("unknown user = %v, want USER_NOT_FOUND", err)
	}

	if err := svc.RevokeSessions(ctx, admin, student.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for _, s := range sessions {
		if u, err := svc.CurrentSession(ctx, s.ID); err != nil || u != nil {
			t.Errorf("session %s still valid: %+v, %v", s.ID, u, err)
		}
	}
	// 対象外のユーザーのセッションは残る
	if u, err := svc.CurrentSession(ctx, adminSession.ID); err != nil || u == nil {
		t.Errorf("admin session revoked: %+v, %v", u, err)
	}
}

func TestRevokeSessions_RepositoryError(t *testing.T) {
	store := memory.New()
	sessions := &mockSessionRepo{deleteByUserIDFn: func(context.Context, string) error {
		return errors.New("redis down")
	}}
	svc := NewService(store.Users(), sessions, ServiceConfig{SessionMaxAge: time.Hour, BcryptCost: bcrypt.MinCost})
	admin := createUser(t, svc, "admin@example.com", model.RoleAdmin)
	student := createUser(t, svc, "student@example.com", model.RoleStudent)

	err := svc.RevokeSessions(context.Background(), admin, student.ID)
	if _, isAPI := model.AsAPIError(err); err == nil || isAPI {
		t.Errorf("err = %v, want wrapped storage error", err)
	}
}
