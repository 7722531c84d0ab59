// Package memory はリポジトリインターフェースのインメモリ実装を提供する。
// テストとローカル開発向けで、並行利用に対して安全。
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/companionhub/internal/model"
	"github.com/hitoshi/companionhub/internal/repository"
)

// Store はインメモリのデータストア。
// WithinTxはストア全体を排他ロックし、エラー時はスナップショットへ巻き戻す。
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users          map[string]model.User
	companions     map[string]model.Companion
	companionOrder []string
	assignments    []model.CompanionAssignment
	subscriptions  map[string]model.Subscription
	subOrder       []string
	pointTxns      []model.PointTransaction
	sessions       map[string]model.Session
}

var (
	_ repository.TxManager                  = (*Store)(nil)
	_ repository.UserRepository             = (*UserRepo)(nil)
	_ repository.CompanionRepository        = (*CompanionRepo)(nil)
	_ repository.AssignmentRepository       = (*AssignmentRepo)(nil)
	_ repository.SubscriptionRepository     = (*SubscriptionRepo)(nil)
	_ repository.PointTransactionRepository = (*PointTransactionRepo)(nil)
	_ repository.SessionRepository          = (*SessionRepo)(nil)
)

// New は空のストアを生成する。
func New() *Store {
	return &Store{
		now:           time.Now,
		users:         make(map[string]model.User),
		companions:    make(map[string]model.Companion),
		subscriptions: make(map[string]model.Subscription),
		sessions:      make(map[string]model.Session),
	}
}

// SetClock はセッション期限判定に使う時刻関数を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock はトランザクション外の呼び出しでのみロックを取得する。
// トランザクション内ではWithinTxが既にロックを保持している。
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users          map[string]model.User
	companions     map[string]model.Companion
	companionOrder []string
	assignments    []model.CompanionAssignment
	subscriptions  map[string]model.Subscription
	subOrder       []string
	pointTxns      []model.PointTransaction
	sessions       map[string]model.Session
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		users:          copyMap(s.users),
		companions:     copyMap(s.companions),
		companionOrder: append([]string(nil), s.companionOrder...),
		assignments:    append([]model.CompanionAssignment(nil), s.assignments...),
		subscriptions:  copyMap(s.subscriptions),
		subOrder:       append([]string(nil), s.subOrder...),
		pointTxns:      append([]model.PointTransaction(nil), s.pointTxns...),
		sessions:       copyMap(s.sessions),
	}
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.companions = snap.companions
	s.companionOrder = snap.companionOrder
	s.assignments = snap.assignments
	s.subscriptions = snap.subscriptions
	s.subOrder = snap.subOrder
	s.pointTxns = snap.pointTxns
	s.sessions = snap.sessions
}

// WithinTx はfnをストア全体の排他ロック下で実行する。
// fnがエラーを返した場合は開始時点の状態に戻す。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Users はユーザーリポジトリを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Companions はコンパニオンリポジトリを返す。
func (s *Store) Companions() *CompanionRepo { return &CompanionRepo{s: s} }

// Assignments は割り当てリポジトリを返す。
func (s *Store) Assignments() *AssignmentRepo { return &AssignmentRepo{s: s} }

// Subscriptions は購読リポジトリを返す。
func (s *Store) Subscriptions() *SubscriptionRepo { return &SubscriptionRepo{s: s} }

// PointTransactions はポイント台帳リポジトリを返す。
func (s *Store) PointTransactions() *PointTransactionRepo { return &PointTransactionRepo{s: s} }

// Sessions はセッションリポジトリを返す。
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// UserRepo はインメモリのユーザーリポジトリ。
type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByIDForUpdate はFindByIDと同じ。行ロックはWithinTxのストアロックで代替する。
func (r *UserRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	return r.FindByID(ctx, id)
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	defer r.s.lock(ctx)()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	defer r.s.lock(ctx)()
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepo) ListByRole(ctx context.Context, role model.Role) ([]*model.User, error) {
	defer r.s.lock(ctx)()
	var users []*model.User
	for _, u := range r.s.users {
		if role == "" || u.Role == role {
			users = append(users, &u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (r *UserRepo) DebitPoints(ctx context.Context, id string, amount int) (int, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.users[id]
	if !ok || u.LearningPoints < amount {
		return 0, repository.ErrBalanceGuard
	}
	u.LearningPoints -= amount
	u.UpdatedAt = r.s.now()
	r.s.users[id] = u
	return u.LearningPoints, nil
}

// CompanionRepo はインメモリのコンパニオンリポジトリ。
type CompanionRepo struct{ s *Store }

func (r *CompanionRepo) List(ctx context.Context, filter repository.CompanionFilter) ([]*model.Companion, error) {
	defer r.s.lock(ctx)()

	var assigned map[string]bool
	if filter.CreatorID != "" {
		assigned = make(map[string]bool)
		for _, a := range r.s.assignments {
			if a.CreatorID == filter.CreatorID {
				assigned[a.CompanionID] = true
			}
		}
	}

	list := make([]*model.Companion, 0, len(r.s.companionOrder))
	for _, id := range r.s.companionOrder {
		c := r.s.companions[id]
		if !filter.IncludeDeleted && c.IsDeleted() {
			continue
		}
		if filter.ActiveOnly && !c.IsActive() {
			continue
		}
		if assigned != nil && !assigned[id] {
			continue
		}
		list = append(list, &c)
	}
	return list, nil
}

func (r *CompanionRepo) FindByID(ctx context.Context, id string) (*model.Companion, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.companions[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CompanionRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Companion, error) {
	return r.FindByID(ctx, id)
}

func (r *CompanionRepo) Create(ctx context.Context, c *model.Companion) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.companions[c.ID]; !exists {
		r.s.companionOrder = append(r.s.companionOrder, c.ID)
	}
	r.s.companions[c.ID] = *c
	return nil
}

func (r *CompanionRepo) Update(ctx context.Context, c *model.Companion) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.companions[c.ID]
	if !ok || cur.IsDeleted() {
		return nil
	}
	updated := *c
	updated.Stats = cur.Stats
	updated.CreatedAt = cur.CreatedAt
	r.s.companions[c.ID] = updated
	return nil
}

func (r *CompanionRepo) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	defer r.s.lock(ctx)()
	c, ok := r.s.companions[id]
	if !ok {
		return nil
	}
	c.Status = model.CompanionStatusDeleted
	c.UpdatedAt = at
	r.s.companions[id] = c
	return nil
}

func (r *CompanionRepo) IncrementSubscribers(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	c, ok := r.s.companions[id]
	if !ok {
		return nil
	}
	c.Stats.CurrentSubscribers++
	c.Stats.TotalSubscribersEver++
	r.s.companions[id] = c
	return nil
}

func (r *CompanionRepo) DecrementSubscribers(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	c, ok := r.s.companions[id]
	if !ok {
		return nil
	}
	if c.Stats.CurrentSubscribers > 0 {
		c.Stats.CurrentSubscribers--
	}
	r.s.companions[id] = c
	return nil
}

func (r *CompanionRepo) Totals(ctx context.Context) (repository.CompanionTotals, error) {
	defer r.s.lock(ctx)()
	var totals repository.CompanionTotals
	for _, c := range r.s.companions {
		if c.IsDeleted() {
			continue
		}
		totals.Companions++
		totals.Subscribers += c.Stats.CurrentSubscribers
	}
	return totals, nil
}

// AssignmentRepo はインメモリの割り当てリポジトリ。
type AssignmentRepo struct{ s *Store }

func (r *AssignmentRepo) Find(ctx context.Context, companionID, creatorID string) (*model.CompanionAssignment, error) {
	defer r.s.lock(ctx)()
	for _, a := range r.s.assignments {
		if a.CompanionID == companionID && a.CreatorID == creatorID {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *AssignmentRepo) Create(ctx context.Context, assignment *model.CompanionAssignment) error {
	defer r.s.lock(ctx)()
	for _, a := range r.s.assignments {
		if a.CompanionID == assignment.CompanionID && a.CreatorID == assignment.CreatorID {
			return nil
		}
	}
	r.s.assignments = append(r.s.assignments, *assignment)
	return nil
}

func (r *AssignmentRepo) Delete(ctx context.Context, companionID, creatorID string) (bool, error) {
	defer r.s.lock(ctx)()
	for i, a := range r.s.assignments {
		if a.CompanionID == companionID && a.CreatorID == creatorID {
			r.s.assignments = append(r.s.assignments[:i:i], r.s.assignments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *AssignmentRepo) ListByCompanion(ctx context.Context, companionID string) ([]*model.CompanionAssignment, error) {
	defer r.s.lock(ctx)()
	var list []*model.CompanionAssignment
	for _, a := range r.s.assignments {
		if a.CompanionID == companionID {
			list = append(list, &a)
		}
	}
	return list, nil
}

func (r *AssignmentRepo) CountByCreator(ctx context.Context, creatorID string) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, a := range r.s.assignments {
		if a.CreatorID != creatorID {
			continue
		}
		if c, ok := r.s.companions[a.CompanionID]; ok && !c.IsDeleted() {
			n++
		}
	}
	return n, nil
}

// SubscriptionRepo はインメモリの購読リポジトリ。
type SubscriptionRepo struct{ s *Store }

func (r *SubscriptionRepo) find(userID, companionID string) (model.Subscription, bool) {
	for _, id := range r.s.subOrder {
		sub := r.s.subscriptions[id]
		if sub.UserID == userID && sub.CompanionID == companionID {
			return sub, true
		}
	}
	return model.Subscription{}, false
}

func (r *SubscriptionRepo) FindByUserAndCompanion(ctx context.Context, userID, companionID string) (*model.Subscription, error) {
	defer r.s.lock(ctx)()
	sub, ok := r.find(userID, companionID)
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (r *SubscriptionRepo) FindByUserAndCompanionForUpdate(ctx context.Context, userID, companionID string) (*model.Subscription, error) {
	return r.FindByUserAndCompanion(ctx, userID, companionID)
}

// Activate は(userID, companionID)ごとに1行を保ったまま購読を有効化する。
func (r *SubscriptionRepo) Activate(ctx context.Context, sub *model.Subscription) error {
	defer r.s.lock(ctx)()
	if existing, ok := r.find(sub.UserID, sub.CompanionID); ok {
		existing.IsActive = true
		existing.RecruitedAt = sub.RecruitedAt
		r.s.subscriptions[existing.ID] = existing
		*sub = existing
		return nil
	}

	sub.IsActive = true
	sub.TotalMessages = 0
	r.s.subscriptions[sub.ID] = *sub
	r.s.subOrder = append(r.s.subOrder, sub.ID)
	return nil
}

func (r *SubscriptionRepo) Deactivate(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil
	}
	sub.IsActive = false
	r.s.subscriptions[id] = sub
	return nil
}

func (r *SubscriptionRepo) CountActiveByCompanion(ctx context.Context, companionID string) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, sub := range r.s.subscriptions {
		if sub.CompanionID == companionID && sub.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *SubscriptionRepo) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, sub := range r.s.subscriptions {
		if sub.UserID == userID && sub.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *SubscriptionRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.SubscriptionWithCompanion, error) {
	defer r.s.lock(ctx)()
	var list []*model.SubscriptionWithCompanion
	for _, id := range r.s.subOrder {
		sub := r.s.subscriptions[id]
		if sub.UserID != userID || !sub.IsActive {
			continue
		}
		c, ok := r.s.companions[sub.CompanionID]
		if !ok {
			continue
		}
		list = append(list, &model.SubscriptionWithCompanion{Subscription: sub, Companion: c})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].RecruitedAt.After(list[j].RecruitedAt)
	})
	return list, nil
}

func (r *SubscriptionRepo) RecordInteraction(ctx context.Context, id string, at time.Time) error {
	defer r.s.lock(ctx)()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil
	}
	sub.TotalMessages++
	sub.LastInteractionAt = &at
	r.s.subscriptions[id] = sub
	return nil
}

// PointTransactionRepo はインメモリのポイント台帳リポジトリ。
type PointTransactionRepo struct{ s *Store }

func (r *PointTransactionRepo) Create(ctx context.Context, txn *model.PointTransaction) error {
	defer r.s.lock(ctx)()
	r.s.pointTxns = append(r.s.pointTxns, *txn)
	return nil
}

func (r *PointTransactionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.PointTransaction, error) {
	defer r.s.lock(ctx)()
	var list []*model.PointTransaction
	for i := len(r.s.pointTxns) - 1; i >= 0 && len(list) < limit; i-- {
		if txn := r.s.pointTxns[i]; txn.UserID == userID {
			list = append(list, &txn)
		}
	}
	return list, nil
}

// SessionRepo はインメモリのセッションリポジトリ。
type SessionRepo struct{ s *Store }

func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	defer r.s.lock(ctx)()
	r.s.sessions[session.ID] = *session
	return nil
}

func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	defer r.s.lock(ctx)()
	sess, ok := r.s.sessions[id]
	if !ok || sess.Expired(r.s.now()) {
		return nil, nil
	}
	return &sess, nil
}

func (r *SessionRepo) DeleteByID(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	delete(r.s.sessions, id)
	return nil
}

func (r *SessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	defer r.s.lock(ctx)()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.Expired(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}
