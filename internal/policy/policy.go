// Package policy はロールに基づくアクセス制御の判定表を提供する。
// 副作用を持たず、全ての更新系操作から1回だけ参照される。
package policy

import "github.com/hitoshi/companionhub/internal/model"

// Action は判定対象の操作を表す。
type Action string

const (
	ActionLogin              Action = "login"
	ActionListCompanions     Action = "list_companions"
	ActionViewCompanion      Action = "view_companion"
	ActionCreateCompanion    Action = "create_companion"
	ActionUpdateCompanion    Action = "update_companion"
	ActionDeleteCompanion    Action = "delete_companion"
	ActionAssignCompanion    Action = "assign_companion"
	ActionUnassignCompanion  Action = "unassign_companion"
	ActionViewAssignments    Action = "view_assignments"
	ActionRecruitCompanion   Action = "recruit_companion"
	ActionUnsubscribe        Action = "unsubscribe_companion"
	ActionChat               Action = "chat"
	ActionListUsers          Action = "list_users"
	ActionViewDashboardStats Action = "view_dashboard_stats"
	ActionRevokeSessions     Action = "revoke_sessions"
)

// 拒否理由
const (
	ReasonNotAuthenticated = "authentication required"
	ReasonSuperAdminOnly   = "only super admin can delete"
	ReasonAdminRequired    = "admin role required"
	ReasonAccessDenied     = "access denied"
	ReasonCreatorOrAdmin   = "creator or admin role required"
	ReasonUnknownAction    = "unknown action"
)

// Target は判定対象のリソースに関する情報。
type Target struct {
	CompanionID string
	// CreatorAssigned はアクターがクリエイターとしてCompanionIDに割り当て済みかどうか。
	CreatorAssigned bool
}

// Decision は判定結果。
type Decision struct {
	Allowed bool
	Reason  string
	// Unauthenticated はアクターが未認証で拒否されたかどうか。
	Unauthenticated bool
}

// Err は拒否の場合に対応するAPIErrorを返す。許可の場合はnil。
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Unauthenticated {
		return model.NewNotAuthenticatedError(d.Reason)
	}
	return model.NewForbiddenError(d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Decide はアクターが操作を実行できるかを判定する。
// 規則は上から順に評価し、最初に一致したものを採用する。
func Decide(actor *model.User, action Action, target Target) Decision {
	if actor == nil {
		if action == ActionLogin {
			return allow()
		}
		return Decision{Reason: ReasonNotAuthenticated, Unauthenticated: true}
	}

	role := actor.Role
	switch action {
	case ActionDeleteCompanion:
		if role == model.RoleSuperAdmin {
			return allow()
		}
		return deny(ReasonSuperAdminOnly)

	case ActionCreateCompanion, ActionAssignCompanion, ActionUnassignCompanion:
		if role.IsAdmin() {
			return allow()
		}
		return deny(ReasonAdminRequired)

	case ActionUpdateCompanion:
		if role.IsAdmin() {
			return allow()
		}
		if role == model.RoleCreator && target.CreatorAssigned {
			return allow()
		}
		return deny(ReasonAccessDenied)

	case ActionLogin, ActionListCompanions, ActionViewCompanion:
		return allow()

	case ActionRecruitCompanion, ActionUnsubscribe, ActionChat:
		if role.Valid() {
			return allow()
		}
		return deny(ReasonAccessDenied)

	case ActionListUsers, ActionViewDashboardStats, ActionRevokeSessions:
		if role.IsAdmin() {
			return allow()
		}
		return deny(ReasonAdminRequired)

	case ActionViewAssignments:
		if role.IsAdmin() || role == model.RoleCreator {
			return allow()
		}
		return deny(ReasonCreatorOrAdmin)
	}

	return deny(ReasonUnknownAction)
}

// Require はDecideが拒否した場合にエラーを返す。
func Require(actor *model.User, action Action, target Target) error {
	return Decide(actor, action, target).Err()
}
