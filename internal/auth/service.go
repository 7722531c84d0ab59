// Package auth はメールアドレスとパスワードによる認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/policy"
	"github.com/hitoshi/companionhub/internal/repository"
	"github.com/hitoshi/companionhub/internal/validation"
)

// invalidCredentials はメールアドレス不一致とパスワード不一致で共通のメッセージ。
const invalidCredentials = "Invalid email or password"

// LoginRequest はサインインのリクエスト。
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// CreateUserRequest はユーザー作成のリクエスト。seedとCLIから使う。
type CreateUserRequest struct {
	Username       string     `json:"username" yaml:"username" validate:"required,max=100"`
	Email          string     `json:"email" yaml:"email" validate:"required,email,max=255"`
	Password       string     `json:"password" yaml:"password" validate:"required,min=8,max=72"`
	Role           model.Role `json:"role" yaml:"role" validate:"required,oneof=student creator admin super_admin"`
	LearningPoints int        `json:"learningPoints" yaml:"learning_points" validate:"gte=0"`
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration
	// BcryptCost が0の場合はbcrypt.DefaultCostを使う。
	BcryptCost int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	validator   *validation.Validator
	now         func() time.Time
	// dummyHash は存在しないメールアドレスでも比較コストを揃えるためのハッシュ。
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("companionhub-dummy-password"), config.BcryptCost)
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		validator:   validation.New(),
		now:         time.Now,
		dummyHash:   dummy,
	}
}

// SignIn は資格情報を検証し、新しいセッションを発行する。
func (s *Service) SignIn(ctx context.Context, req LoginRequest) (*model.User, *model.Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	hash := s.dummyHash
	if user != nil {
		hash = []byte(user.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || user == nil {
		slog.InfoContext(ctx, "sign in rejected", slog.String("email", req.Email))
		return nil, nil, model.NewNotAuthenticatedError(invalidCredentials)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.InfoContext(ctx, "user signed in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, session, nil
}

// SignOut はセッションを破棄する。存在しないセッションの破棄は成功として扱う。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.InfoContext(ctx, "user signed out")
	return nil
}

// CurrentSession はセッションに紐づくユーザーを返す。
// セッションが存在しない、期限切れ、またはユーザーが削除済みの場合はnilを返す。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(s.now()) {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateUser はパスワードをbcryptでハッシュ化してユーザーを作成する。
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*model.User, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewInvalidRequestError("email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, model.NewInvalidRequestError("password is too long")
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:             uuid.New().String(),
		Username:       req.Username,
		Email:          req.Email,
		PasswordHash:   string(hash),
		Role:           req.Role,
		LearningPoints: req.LearningPoints,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.InfoContext(ctx, "user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// ListUsersByRole は指定ロールのユーザー一覧を返す。管理者のみ。
// roleが空の場合は全ユーザーを返す。
func (s *Service) ListUsersByRole(ctx context.Context, actor *model.User, role model.Role) ([]*model.User, error) {
	if err := policy.Require(actor, policy.ActionListUsers, policy.Target{}); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("unknown role %q", role))
	}

	users, err := s.userRepo.ListByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// RevokeSessions は指定ユーザーの全セッションを失効させる。管理者のみ。
// 失効後、そのユーザーは再ログインが必要になる。
func (s *Service) RevokeSessions(ctx context.Context, actor *model.User, userID string) error {
	if err := policy.Require(actor, policy.ActionRevokeSessions, policy.Target{}); err != nil {
		return err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError(userID)
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.InfoContext(ctx, "user sessions revoked",
		slog.String("user_id", userID),
		slog.String("revoked_by", actor.ID),
	)
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
