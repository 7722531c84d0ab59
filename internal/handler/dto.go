package handler

import (
	"time"

	"github.com/hitoshi/companionhub/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	LearningPoints int       `json:"learningPoints"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		Role:           string(u.Role),
		LearningPoints: u.LearningPoints,
		CreatedAt:      u.CreatedAt,
	}
}

type companionStatsResponse struct {
	Rating               float64 `json:"rating"`
	CurrentSubscribers   int     `json:"currentSubscribers"`
	TotalSubscribersEver int     `json:"totalSubscribersEver"`
}

// companionResponse はコンパニオンのAPIレスポンス。
// difyApiKeyはどのロールに対しても返さない。
type companionResponse struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	RoleDescription string                 `json:"role"`
	Category        string                 `json:"category"`
	AvatarEmoji     string                 `json:"avatar"`
	ColorClass      string                 `json:"colorClass"`
	CostPoints      int                    `json:"cost"`
	Description     string                 `json:"description"`
	Quote           string                 `json:"quote"`
	DifyPromptLink  string                 `json:"difyPromptLink,omitempty"`
	HasDifyAPIKey   bool                   `json:"hasDifyApiKey"`
	Remarks         string                 `json:"remarks,omitempty"`
	Status          string                 `json:"status"`
	IsActive        bool                   `json:"isActive"`
	IsDeleted       bool                   `json:"isDeleted"`
	Stats           companionStatsResponse `json:"stats"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func toCompanionResponse(c *model.Companion) companionResponse {
	return companionResponse{
		ID:              c.ID,
		Name:            c.Name,
		RoleDescription: c.RoleDescription,
		Category:        c.Category,
		AvatarEmoji:     c.AvatarEmoji,
		ColorClass:      c.ColorClass,
		CostPoints:      c.CostPoints,
		Description:     c.Description,
		Quote:           c.Quote,
		DifyPromptLink:  c.DifyPromptLink,
		HasDifyAPIKey:   c.DifyAPIKey != "",
		Remarks:         c.Remarks,
		Status:          string(c.Status),
		IsActive:        c.IsActive(),
		IsDeleted:       c.IsDeleted(),
		Stats: companionStatsResponse{
			Rating:               c.Stats.Rating,
			CurrentSubscribers:   c.Stats.CurrentSubscribers,
			TotalSubscribersEver: c.Stats.TotalSubscribersEver,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toCompanionResponses(cs []*model.Companion) []companionResponse {
	out := make([]companionResponse, len(cs))
	for i, c := range cs {
		out[i] = toCompanionResponse(c)
	}
	return out
}

type assignmentResponse struct {
	ID          string    `json:"id"`
	CompanionID string    `json:"companionId"`
	CreatorID   string    `json:"creatorId"`
	AssignedBy  string    `json:"assignedBy"`
	AssignedAt  time.Time `json:"assignedAt"`
}

func toAssignmentResponse(a *model.CompanionAssignment) assignmentResponse {
	return assignmentResponse{
		ID:          a.ID,
		CompanionID: a.CompanionID,
		CreatorID:   a.CreatorID,
		AssignedBy:  a.AssignedBy,
		AssignedAt:  a.AssignedAt,
	}
}

// subscriptionResponse はリクルート済みコンパニオンのAPIレスポンス。
type subscriptionResponse struct {
	ID                string            `json:"id"`
	CompanionID       string            `json:"companionId"`
	RecruitedAt       time.Time         `json:"recruitedAt"`
	TotalMessages     int               `json:"totalMessages"`
	LastInteractionAt *time.Time        `json:"lastInteractionAt,omitempty"`
	Companion         companionResponse `json:"companion"`
}

func toSubscriptionResponse(s *model.SubscriptionWithCompanion) subscriptionResponse {
	return subscriptionResponse{
		ID:                s.ID,
		CompanionID:       s.CompanionID,
		RecruitedAt:       s.RecruitedAt,
		TotalMessages:     s.TotalMessages,
		LastInteractionAt: s.LastInteractionAt,
		Companion:         toCompanionResponse(&s.Companion),
	}
}

type pointTransactionResponse struct {
	ID           string    `json:"id"`
	Amount       int       `json:"amount"`
	Type         string    `json:"type"`
	Reference    string    `json:"reference"`
	BalanceAfter int       `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toPointTransactionResponse(p *model.PointTransaction) pointTransactionResponse {
	return pointTransactionResponse{
		ID:           p.ID,
		Amount:       p.Amount,
		Type:         string(p.Type),
		Reference:    p.Reference,
		BalanceAfter: p.BalanceAfter,
		CreatedAt:    p.CreatedAt,
	}
}

type recruitResponse struct {
	Success    bool `json:"success"`
	PointsLeft int  `json:"pointsLeft"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Warning string `json:"warning,omitempty"`
}

type chatReplyResponse struct {
	CompanionID string    `json:"companionId"`
	Reply       string    `json:"reply"`
	Fallback    bool      `json:"fallback"`
	SentAt      time.Time `json:"sentAt"`
}

func toChatReplyResponse(r *model.ChatReply) chatReplyResponse {
	return chatReplyResponse{
		CompanionID: r.CompanionID,
		Reply:       r.Reply,
		Fallback:    r.Fallback,
		SentAt:      r.SentAt,
	}
}

// dashboardResponse はロールごとのダッシュボード集計。該当しない項目は省略する。
type dashboardResponse struct {
	Role               string `json:"role"`
	TotalCompanions    *int   `json:"totalCompanions,omitempty"`
	TotalSubscribers   *int   `json:"totalSubscribers,omitempty"`
	AssignedCompanions *int   `json:"assignedCompanions,omitempty"`
	ActiveRecruits     *int   `json:"activeRecruits,omitempty"`
	LearningPoints     *int   `json:"learningPoints,omitempty"`
}

func toDashboardResponse(s *model.DashboardStats) dashboardResponse {
	resp := dashboardResponse{Role: string(s.Role)}
	switch {
	case s.Role.IsAdmin():
		resp.TotalCompanions = &s.TotalCompanions
		resp.TotalSubscribers = &s.TotalSubscribers
	case s.Role == model.RoleCreator:
		resp.AssignedCompanions = &s.AssignedCompanions
	default:
		resp.ActiveRecruits = &s.ActiveRecruits
		resp.LearningPoints = &s.LearningPoints
	}
	return resp
}
