// Package assignment はクリエイターとコンパニオンの割り当て管理を提供する。
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/policy"
	"github.com/hitoshi/companionhub/internal/repository"
	"github.com/hitoshi/companionhub/internal/validation"
)

// AssignRequest は割り当て作成のリクエスト。
type AssignRequest struct {
	CreatorID string `json:"creatorId" validate:"required,uuid"`
}

// Service は割り当て管理のサービス層。
type Service struct {
	assignRepo    repository.AssignmentRepository
	companionRepo repository.CompanionRepository
	userRepo      repository.UserRepository
	validator     *validation.Validator
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	assignRepo repository.AssignmentRepository,
	companionRepo repository.CompanionRepository,
	userRepo repository.UserRepository,
) *Service {
	return &Service{
		assignRepo:    assignRepo,
		companionRepo: companionRepo,
		userRepo:      userRepo,
		validator:     validation.New(),
		now:           time.Now,
	}
}

// Assign はクリエイターをコンパニオンに割り当てる。
// 既に割り当て済みの場合は既存の割り当てを返す。
func (s *Service) Assign(ctx context.Context, actor *model.User, companionID string, req AssignRequest) (*model.CompanionAssignment, error) {
	if err := policy.Require(actor, policy.ActionAssignCompanion, policy.Target{CompanionID: companionID}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	companion, err := s.companionRepo.FindByID(ctx, companionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find companion: %w", err)
	}
	if companion == nil || companion.IsDeleted() {
		return nil, model.NewCompanionNotFoundError(companionID)
	}

	creator, err := s.userRepo.FindByID(ctx, req.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find creator: %w", err)
	}
	if creator == nil {
		return nil, model.NewUserNotFoundError(req.CreatorID)
	}
	if creator.Role != model.RoleCreator {
		return nil, model.NewInvalidRequestError("only users with the creator role can be assigned")
	}

	existing, err := s.assignRepo.Find(ctx, companionID, req.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	a := &model.CompanionAssignment{
		ID:          uuid.New().String(),
		CompanionID: companionID,
		CreatorID:   req.CreatorID,
		AssignedBy:  actor.ID,
		AssignedAt:  s.now(),
	}
	if err := s.assignRepo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	// ON CONFLICT DO NOTHINGで競合した場合は先に作られた行を返す
	saved, err := s.assignRepo.Find(ctx, companionID, req.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload assignment: %w", err)
	}
	if saved == nil {
		saved = a
	}

	slog.InfoContext(ctx, "creator assigned",
		slog.String("companion_id", companionID),
		slog.String("creator_id", req.CreatorID),
		slog.String("assigned_by", actor.ID),
	)
	return saved, nil
}

// Unassign は割り当てを解除する。
func (s *Service) Unassign(ctx context.Context, actor *model.User, companionID, creatorID string) error {
	if err := policy.Require(actor, policy.ActionUnassignCompanion, policy.Target{CompanionID: companionID}); err != nil {
		return err
	}

	deleted, err := s.assignRepo.Delete(ctx, companionID, creatorID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if !deleted {
		return model.NewAssignmentNotFoundError(companionID, creatorID)
	}

	slog.InfoContext(ctx, "creator unassigned",
		slog.String("companion_id", companionID),
		slog.String("creator_id", creatorID),
	)
	return nil
}

// ListByCompanion はコンパニオンの割り当て一覧を返す。
// クリエイターは自分に割り当てられたコンパニオンのみ参照できる。
func (s *Service) ListByCompanion(ctx context.Context, actor *model.User, companionID string) ([]*model.CompanionAssignment, error) {
	if err := policy.Require(actor, policy.ActionViewAssignments, policy.Target{CompanionID: companionID}); err != nil {
		return nil, err
	}

	if actor.Role == model.RoleCreator {
		assigned, err := s.IsAssigned(ctx, companionID, actor.ID)
		if err != nil {
			return nil, err
		}
		if !assigned {
			return nil, model.NewForbiddenError(policy.ReasonAccessDenied)
		}
	}

	list, err := s.assignRepo.ListByCompanion(ctx, companionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return list, nil
}

// IsAssigned はクリエイターがコンパニオンに割り当て済みかどうかを返す。
func (s *Service) IsAssigned(ctx context.Context, companionID, creatorID string) (bool, error) {
	a, err := s.assignRepo.Find(ctx, companionID, creatorID)
	if err != nil {
		return false, fmt.Errorf("failed to find assignment: %w", err)
	}
	return a != nil, nil
}
