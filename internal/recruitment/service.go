// Package recruitment はポイントによるコンパニオンのリクルートと購読解除を提供する。
package recruitment

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
	"github.com/hitoshi/companionhub/internal/telemetry"
)

// デフォルトとmaxのポイント履歴件数
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Service はリクルートのサービス層。
// ポイント減算・購読の有効化・集計値の更新・台帳の追記を1トランザクションで行う。
type Service struct {
	userRepo      repository.UserRepository
	companionRepo repository.CompanionRepository
	subRepo       repository.SubscriptionRepository
	pointRepo     repository.PointTransactionRepository
	tx            repository.TxManager
	metrics       metrics.MetricsCollector
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	companionRepo repository.CompanionRepository,
	subRepo repository.SubscriptionRepository,
	pointRepo repository.PointTransactionRepository,
	tx repository.TxManager,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		userRepo:      userRepo,
		companionRepo: companionRepo,
		subRepo:       subRepo,
		pointRepo:     pointRepo,
		tx:            tx,
		metrics:       m,
		now:           time.Now,
	}
}

// Recruit はユーザーのポイントを消費してコンパニオンをリクルートする。
// ロック順序は users → companions で固定する。
func (s *Service) Recruit(ctx context.Context, actor *model.User, companionID string) (result *model.RecruitResult, err error) {
	ctx, span := telemetry.Start(ctx, "recruitment.Recruit", attribute.String("companion.id", companionID))
	defer func() {
		telemetry.End(span, err)
		s.metrics.RecordRecruit(outcome(err))
	}()

	if err := policy.Require(actor, policy.ActionRecruitCompanion, policy.Target{CompanionID: companionID}); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}
		if user == nil {
			return model.NewNotAuthenticatedError("user account no longer exists")
		}

		companion, err := s.companionRepo.FindByIDForUpdate(ctx, companionID)
		if err != nil {
			return fmt.Errorf("failed to lock companion: %w", err)
		}
		if companion == nil || companion.IsDeleted() {
			return model.NewCompanionNotFoundError(companionID)
		}

		if user.LearningPoints < companion.CostPoints {
			return model.NewInsufficientFundsError(user.LearningPoints, companion.CostPoints)
		}

		existing, err := s.subRepo.FindByUserAndCompanionForUpdate(ctx, user.ID, companionID)
		if err != nil {
			return fmt.Errorf("failed to find subscription: %w", err)
		}
		if existing != nil && existing.IsActive {
			return model.NewAlreadyRecruitedError(companion.Name)
		}

		balance, err := s.userRepo.DebitPoints(ctx, user.ID, companion.CostPoints)
		if err != nil {
			if errors.Is(err, repository.ErrBalanceGuard) {
				return model.NewInsufficientFundsError(user.LearningPoints, companion.CostPoints)
			}
			return fmt.Errorf("failed to debit points: %w", err)
		}

		now := s.now()
		sub := &model.Subscription{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			CompanionID: companionID,
			RecruitedAt: now,
		}
		if err := s.subRepo.Activate(ctx, sub); err != nil {
			return fmt.Errorf("failed to activate subscription: %w", err)
		}

		if err := s.companionRepo.IncrementSubscribers(ctx, companionID); err != nil {
			return fmt.Errorf("failed to update subscriber counts: %w", err)
		}

		if err := s.pointRepo.Create(ctx, &model.PointTransaction{
			ID:           uuid.New().String(),
			UserID:       user.ID,
			Amount:       -companion.CostPoints,
			Type:         model.PointTransactionRecruit,
			Reference:    companionID,
			BalanceAfter: balance,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to append point transaction: %w", err)
		}

		result = &model.RecruitResult{Success: true, PointsLeft: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "companion recruited",
		slog.String("user_id", actor.ID),
		slog.String("companion_id", companionID),
		slog.Int("points_left", result.PointsLeft),
	)
	return result, nil
}

// Unsubscribe はアクティブな購読を解除する。ポイントは返還しない。
func (s *Service) Unsubscribe(ctx context.Context, actor *model.User, companionID string) (err error) {
	ctx, span := telemetry.Start(ctx, "recruitment.Unsubscribe", attribute.String("companion.id", companionID))
	defer func() { telemetry.End(span, err) }()

	if err := policy.Require(actor, policy.ActionUnsubscribe, policy.Target{CompanionID: companionID}); err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		companion, err := s.companionRepo.FindByIDForUpdate(ctx, companionID)
		if err != nil {
			return fmt.Errorf("failed to lock companion: %w", err)
		}
		if companion == nil {
			return model.NewSubscriptionNotFoundError(companionID)
		}

		sub, err := s.subRepo.FindByUserAndCompanionForUpdate(ctx, actor.ID, companionID)
		if err != nil {
			return fmt.Errorf("failed to find subscription: %w", err)
		}
		if sub == nil || !sub.IsActive {
			return model.NewSubscriptionNotFoundError(companionID)
		}

		if err := s.subRepo.Deactivate(ctx, sub.ID); err != nil {
			return fmt.Errorf("failed to deactivate subscription: %w", err)
		}
		if err := s.companionRepo.DecrementSubscribers(ctx, companionID); err != nil {
			return fmt.Errorf("failed to update subscriber counts: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordUnsubscribe()
	slog.InfoContext(ctx, "companion unsubscribed",
		slog.String("user_id", actor.ID),
		slog.String("companion_id", companionID),
	)
	return nil
}

// ListMine はアクターのアクティブな購読をコンパニオン情報付きで返す。
func (s *Service) ListMine(ctx context.Context, actor *model.User) ([]*model.SubscriptionWithCompanion, error) {
	if actor == nil {
		return nil, model.NewNotAuthenticatedError(policy.ReasonNotAuthenticated)
	}
	list, err := s.subRepo.ListActiveByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return list, nil
}

// PointHistory はアクターのポイント台帳を新しい順に返す。
// limitが0以下の場合はDefaultHistoryLimit、上限はMaxHistoryLimit。
func (s *Service) PointHistory(ctx context.Context, actor *model.User, limit int) ([]*model.PointTransaction, error) {
	if actor == nil {
		return nil, model.NewNotAuthenticatedError(policy.ReasonNotAuthenticated)
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	list, err := s.pointRepo.ListByUser(ctx, actor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list point transactions: %w", err)
	}
	return list, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case model.IsCode(err, model.ErrCodeInsufficientFunds):
		return metrics.OutcomeInsufficientFunds
	case model.IsCode(err, model.ErrCodeAlreadyRecruited):
		return metrics.OutcomeAlreadyRecruited
	default:
		return metrics.OutcomeError
	}
}
