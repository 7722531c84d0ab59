// Package catalog はコンパニオンカタログの管理を提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hitoshi/companionhub/internal/metrics"
	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/policy"
	"github.com/hitoshi/companionhub/internal/repository"
	"github.com/hitoshi/companionhub/internal/security"
	"github.com/hitoshi/companionhub/internal/telemetry"
	"github.com/hitoshi/companionhub/internal/validation"
)

// CreateCompanionRequest はコンパニオン作成のリクエスト。
type CreateCompanionRequest struct {
	Name            string `json:"name" validate:"required,max=100"`
	RoleDescription string `json:"role" validate:"required,max=200"`
	Category        string `json:"category" validate:"required,oneof=English Maths Chinese Science History Other"`
	AvatarEmoji     string `json:"avatar" validate:"required,max=16"`
	ColorClass      string `json:"colorClass" validate:"required,oneof=av-blue av-orange av-red av-green av-purple av-pink"`
	CostPoints      int    `json:"cost" validate:"gte=0,lte=1000000"`
	Description     string `json:"description" validate:"max=4000"`
	Quote           string `json:"quote" validate:"max=500"`
	DifyPromptLink  string `json:"difyPromptLink" validate:"omitempty,url,max=2048"`
	DifyAPIKey      string `json:"difyApiKey" validate:"max=255"`
	Remarks         string `json:"remarks" validate:"max=2000"`
	// IsActive が未指定の場合は公開状態で作成する。
	IsActive *bool `json:"isActive"`
}

// UpdateCompanionRequest はコンパニオン更新のリクエスト。nilのフィールドは変更しない。
type UpdateCompanionRequest struct {
	Name            *string `json:"name" validate:"omitempty,min=1,max=100"`
	RoleDescription *string `json:"role" validate:"omitempty,min=1,max=200"`
	Category        *string `json:"category" validate:"omitempty,oneof=English Maths Chinese Science History Other"`
	AvatarEmoji     *string `json:"avatar" validate:"omitempty,min=1,max=16"`
	ColorClass      *string `json:"colorClass" validate:"omitempty,oneof=av-blue av-orange av-red av-green av-purple av-pink"`
	CostPoints      *int    `json:"cost" validate:"omitempty,gte=0,lte=1000000"`
	Description     *string `json:"description" validate:"omitempty,max=4000"`
	Quote           *string `json:"quote" validate:"omitempty,max=500"`
	DifyPromptLink  *string `json:"difyPromptLink" validate:"omitempty,max=2048,eq=|url"`
	DifyAPIKey      *string `json:"difyApiKey" validate:"omitempty,max=255"`
	Remarks         *string `json:"remarks" validate:"omitempty,max=2000"`
	IsActive        *bool   `json:"isActive"`
}

// AssignmentChecker はクリエイターの割り当て有無を判定する。
type AssignmentChecker interface {
	IsAssigned(ctx context.Context, companionID, creatorID string) (bool, error)
}

// Service はカタログのサービス層。
type Service struct {
	companionRepo repository.CompanionRepository
	subRepo       repository.SubscriptionRepository
	userRepo      repository.UserRepository
	assignRepo    repository.AssignmentRepository
	assignments   AssignmentChecker
	tx            repository.TxManager
	sanitizer     security.ContentSanitizerService
	ssrfGuard     security.SSRFGuardService
	metrics       metrics.MetricsCollector
	validator     *validation.Validator
	now           func() time.Time
}

// Deps はServiceの依存関係。
type Deps struct {
	Companions    repository.CompanionRepository
	Subscriptions repository.SubscriptionRepository
	Users         repository.UserRepository
	Assignments   repository.AssignmentRepository
	Checker       AssignmentChecker
	Tx            repository.TxManager
	Sanitizer     security.ContentSanitizerService
	SSRFGuard     security.SSRFGuardService
	Metrics       metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(d Deps) *Service {
	m := d.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		companionRepo: d.Companions,
		subRepo:       d.Subscriptions,
		userRepo:      d.Users,
		assignRepo:    d.Assignments,
		assignments:   d.Checker,
		tx:            d.Tx,
		sanitizer:     d.Sanitizer,
		ssrfGuard:     d.SSRFGuard,
		metrics:       m,
		validator:     validation.New(),
		now:           time.Now,
	}
}

// List はアクターから見えるコンパニオンを登録順で返す。
// includeDeletedは管理者の場合のみ有効。クリエイターは割り当て済みのもののみ返す。
// 学生には公開中(active)のものだけを返す。
func (s *Service) List(ctx context.Context, actor *model.User, includeDeleted bool) (companions []*model.Companion, err error) {
	ctx, span := telemetry.Start(ctx, "catalog.List")
	defer func() { telemetry.End(span, err) }()

	if err := policy.Require(actor, policy.ActionListCompanions, policy.Target{}); err != nil {
		return nil, err
	}

	filter := repository.CompanionFilter{
		IncludeDeleted: includeDeleted && actor.Role.IsAdmin(),
	}
	switch {
	case actor.Role == model.RoleCreator:
		filter.CreatorID = actor.ID
	case !actor.Role.IsAdmin():
		filter.ActiveOnly = true
	}

	companions, err = s.companionRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list companions: %w", err)
	}
	return companions, nil
}

// Get は論理削除されていないコンパニオンを返す。
func (s *Service) Get(ctx context.Context, actor *model.User, id string) (*model.Companion, error) {
	if err := policy.Require(actor, policy.ActionViewCompanion, policy.Target{CompanionID: id}); err != nil {
		return nil, err
	}
	return s.findVisible(ctx, id)
}

func (s *Service) findVisible(ctx context.Context, id string) (*model.Companion, error) {
	c, err := s.companionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find companion: %w", err)
	}
	if c == nil || c.IsDeleted() {
		return nil, model.NewCompanionNotFoundError(id)
	}
	return c, nil
}

// Create はコンパニオンを作成する。
func (s *Service) Create(ctx context.Context, actor *model.User, req CreateCompanionRequest) (c *model.Companion, err error) {
	ctx, span := telemetry.Start(ctx, "catalog.Create")
	defer func() { telemetry.End(span, err) }()

	if err := policy.Require(actor, policy.ActionCreateCompanion, policy.Target{}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	now := s.now()
	c = &model.Companion{
		ID:              uuid.New().String(),
		Name:            s.sanitizer.PlainText(req.Name),
		RoleDescription: s.sanitizer.PlainText(req.RoleDescription),
		Category:        req.Category,
		AvatarEmoji:     s.sanitizer.PlainText(req.AvatarEmoji),
		ColorClass:      req.ColorClass,
		CostPoints:      req.CostPoints,
		Description:     s.sanitizer.Sanitize(req.Description),
		Quote:           s.sanitizer.PlainText(req.Quote),
		DifyAPIKey:      req.DifyAPIKey,
		Remarks:         s.sanitizer.PlainText(req.Remarks),
		Status:          model.CompanionStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IsActive != nil && !*req.IsActive {
		c.Status = model.CompanionStatusInactive
	}
	if c.Name == "" || c.RoleDescription == "" {
		return nil, model.NewInvalidRequestError("name and role must contain text")
	}

	link, err := s.checkPromptLink(req.DifyPromptLink)
	if err != nil {
		return nil, err
	}
	c.DifyPromptLink = link

	if err := s.companionRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create companion: %w", err)
	}

	span.SetAttributes(attribute.String("companion.id", c.ID))
	slog.InfoContext(ctx, "companion created",
		slog.String("companion_id", c.ID),
		slog.String("name", c.Name),
		slog.String("created_by", actor.ID),
	)
	return c, nil
}

// Update は指定されたフィールドのみ更新する。
// 論理削除済みのコンパニオンは更新できない。
func (s *Service) Update(ctx context.Context, actor *model.User, id string, req UpdateCompanionRequest) (c *model.Companion, err error) {
	ctx, span := telemetry.Start(ctx, "catalog.Update", attribute.String("companion.id", id))
	defer func() { telemetry.End(span, err) }()

	target := policy.Target{CompanionID: id}
	if actor != nil && actor.Role == model.RoleCreator {
		target.CreatorAssigned, err = s.assignments.IsAssigned(ctx, id, actor.ID)
		if err != nil {
			return nil, err
		}
	}
	if err := policy.Require(actor, policy.ActionUpdateCompanion, target); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	// 読み取りから書き戻しまで行ロックを保持し、同時更新で他のフィールドを上書きしない
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.companionRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to lock companion: %w", err)
		}
		if cur == nil || cur.IsDeleted() {
			return model.NewCompanionNotFoundError(id)
		}
		if err := s.applyUpdate(cur, req); err != nil {
			return err
		}
		if err := s.companionRepo.Update(ctx, cur); err != nil {
			return fmt.Errorf("failed to update companion: %w", err)
		}

		// 集計値は更新対象外のため再取得した値を返す
		c, err = s.companionRepo.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to find companion: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// applyUpdate は指定されたフィールドのみcへ反映する。
func (s *Service) applyUpdate(c *model.Companion, req UpdateCompanionRequest) error {
	if req.Name != nil {
		c.Name = s.sanitizer.PlainText(*req.Name)
	}
	if req.RoleDescription != nil {
		c.RoleDescription = s.sanitizer.PlainText(*req.RoleDescription)
	}
	if req.Category != nil {
		c.Category = *req.Category
	}
	if req.AvatarEmoji != nil {
		c.AvatarEmoji = s.sanitizer.PlainText(*req.AvatarEmoji)
	}
	if req.ColorClass != nil {
		c.ColorClass = *req.ColorClass
	}
	if req.CostPoints != nil {
		c.CostPoints = *req.CostPoints
	}
	if req.Description != nil {
		c.Description = s.sanitizer.Sanitize(*req.Description)
	}
	if req.Quote != nil {
		c.Quote = s.sanitizer.PlainText(*req.Quote)
	}
	if req.DifyPromptLink != nil {
		link, err := s.checkPromptLink(*req.DifyPromptLink)
		if err != nil {
			return err
		}
		c.DifyPromptLink = link
	}
	if req.DifyAPIKey != nil {
		c.DifyAPIKey = *req.DifyAPIKey
	}
	if req.Remarks != nil {
		c.Remarks = s.sanitizer.PlainText(*req.Remarks)
	}
	if req.IsActive != nil {
		if *req.IsActive {
			c.Status = model.CompanionStatusActive
		} else {
			c.Status = model.CompanionStatusInactive
		}
	}
	if c.Name == "" || c.RoleDescription == "" {
		return model.NewInvalidRequestError("name and role must contain text")
	}
	c.UpdatedAt = s.now()
	return nil
}

// SoftDelete はコンパニオンを論理削除する。
// アクティブな購読者がいる場合は削除せず、Success=falseと警告を返す。
func (s *Service) SoftDelete(ctx context.Context, actor *model.User, id string) (result *model.DeleteResult, err error) {
	ctx, span := telemetry.Start(ctx, "catalog.SoftDelete", attribute.String("companion.id", id))
	defer func() { telemetry.End(span, err) }()

	if err := policy.Require(actor, policy.ActionDeleteCompanion, policy.Target{CompanionID: id}); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.companionRepo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to lock companion: %w", err)
		}
		if c == nil {
			return model.NewCompanionNotFoundError(id)
		}
		if c.IsDeleted() {
			result = &model.DeleteResult{Success: true}
			return nil
		}

		active, err := s.subRepo.CountActiveByCompanion(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to count active subscriptions: %w", err)
		}
		if active > 0 {
			result = &model.DeleteResult{
				Success: false,
				Warning: fmt.Sprintf("Cannot delete: %d active subscriber(s).", active),
			}
			return nil
		}

		if err := s.companionRepo.MarkDeleted(ctx, id, s.now()); err != nil {
			return fmt.Errorf("failed to mark companion deleted: %w", err)
		}
		result = &model.DeleteResult{Success: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Success {
		s.metrics.RecordDeleteBlocked()
		slog.InfoContext(ctx, "companion delete blocked",
			slog.String("companion_id", id),
			slog.String("warning", result.Warning),
		)
	} else {
		slog.InfoContext(ctx, "companion deleted", slog.String("companion_id", id), slog.String("deleted_by", actor.ID))
	}
	return result, nil
}

// Stats はロールに応じたダッシュボード集計値を返す。
// 管理者はカタログ全体、クリエイターは割り当て数、学生は自身の購読数と残高を受け取る。
func (s *Service) Stats(ctx context.Context, actor *model.User) (*model.DashboardStats, error) {
	if actor == nil {
		return nil, model.NewNotAuthenticatedError(policy.ReasonNotAuthenticated)
	}

	stats := &model.DashboardStats{Role: actor.Role}
	switch {
	case policy.Decide(actor, policy.ActionViewDashboardStats, policy.Target{}).Allowed:
		totals, err := s.companionRepo.Totals(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate companions: %w", err)
		}
		stats.TotalCompanions = totals.Companions
		stats.TotalSubscribers = totals.Subscribers

	case actor.Role == model.RoleCreator:
		n, err := s.assignRepo.CountByCreator(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count assignments: %w", err)
		}
		stats.AssignedCompanions = n

	default:
		n, err := s.subRepo.CountActiveByUser(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count subscriptions: %w", err)
		}
		u, err := s.userRepo.FindByID(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if u == nil {
			return nil, model.NewUserNotFoundError(actor.ID)
		}
		stats.ActiveRecruits = n
		stats.LearningPoints = u.LearningPoints
	}
	return stats, nil
}

// checkPromptLink は空でないリンクをSSRFガードで検証する。
func (s *Service) checkPromptLink(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if err := s.ssrfGuard.ValidateURL(raw); err != nil {
		if errors.Is(err, security.ErrBlockedDestination) {
			return "", model.NewSSRFBlockedError()
		}
		return "", model.NewInvalidURLError(err.Error())
	}
	return raw, nil
}
