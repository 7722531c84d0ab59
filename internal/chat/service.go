// Package chat はリクルート済みコンパニオンとのチャットを提供する。
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/companionhub/internal/conversation"
	"github.com/hitoshi/companionhub/internal/metrics"
	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/policy"
	"github.com/hitoshi/companionhub/internal/repository"
	"github.com/hitoshi/companionhub/internal/validation"
)

// EmptyReply はLLMの応答が空だった場合に返すテキスト。
const EmptyReply = "I'm sorry, I couldn't process that."

// SendRequest はチャット送信のリクエスト。
type SendRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// Service はチャットのサービス層。
type Service struct {
	companionRepo repository.CompanionRepository
	subRepo       repository.SubscriptionRepository
	gateway       conversation.Gateway
	metrics       metrics.MetricsCollector
	validator     *validation.Validator
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	companionRepo repository.CompanionRepository,
	subRepo repository.SubscriptionRepository,
	gateway conversation.Gateway,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		companionRepo: companionRepo,
		subRepo:       subRepo,
		gateway:       gateway,
		metrics:       m,
		validator:     validation.New(),
		now:           time.Now,
	}
}

// Greeting はチャット開始時のコンパニオンの挨拶文を返す。
func Greeting(c *model.Companion) string {
	return fmt.Sprintf("Hi there! I'm %s. %s How can I help you today?", c.Name, c.Quote)
}

// Greet はアクティブな購読を持つコンパニオンの挨拶を返す。
func (s *Service) Greet(ctx context.Context, actor *model.User, companionID string) (*model.ChatReply, error) {
	c, _, err := s.authorize(ctx, actor, companionID)
	if err != nil {
		return nil, err
	}
	return &model.ChatReply{CompanionID: c.ID, Reply: Greeting(c), SentAt: s.now()}, nil
}

// Send はメッセージをコンパニオンに送り応答を返す。
// LLMの応答を待つ間にctxが終了した場合はctx.Err()を返すが、LLM呼び出し自体は継続する。
func (s *Service) Send(ctx context.Context, actor *model.User, companionID string, req SendRequest) (*model.ChatReply, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, model.NewInvalidRequestError("message is required")
	}

	c, sub, err := s.authorize(ctx, actor, companionID)
	if err != nil {
		return nil, err
	}

	if err := s.subRepo.RecordInteraction(ctx, sub.ID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to record interaction: %w", err)
	}

	var reply conversation.Reply
	select {
	case reply = <-conversation.ChatAsync(ctx, s.gateway, c.Name, c.RoleDescription, message):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.metrics.RecordChat(reply.Fallback)
	text := reply.Text
	if strings.TrimSpace(text) == "" {
		text = EmptyReply
	}

	slog.InfoContext(ctx, "chat reply",
		slog.String("user_id", actor.ID),
		slog.String("companion_id", c.ID),
		slog.Bool("fallback", reply.Fallback),
	)
	return &model.ChatReply{CompanionID: c.ID, Reply: text, Fallback: reply.Fallback, SentAt: s.now()}, nil
}

// authorize はコンパニオンの存在とアクターのアクティブな購読を確認する。
func (s *Service) authorize(ctx context.Context, actor *model.User, companionID string) (*model.Companion, *model.Subscription, error) {
	if err := policy.Require(actor, policy.ActionChat, policy.Target{CompanionID: companionID}); err != nil {
		return nil, nil, err
	}

	c, err := s.companionRepo.FindByID(ctx, companionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find companion: %w", err)
	}
	if c == nil || c.IsDeleted() {
		return nil, nil, model.NewCompanionNotFoundError(companionID)
	}

	sub, err := s.subRepo.FindByUserAndCompanion(ctx, actor.ID, companionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	if sub == nil || !sub.IsActive {
		return nil, nil, model.NewSubscriptionNotFoundError(companionID)
	}
	return c, sub, nil
}
