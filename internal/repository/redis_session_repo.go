package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/companionhub/internal/model"
)

const (
	redisSessionPrefix     = "session:"
	redisUserSessionPrefix = "user_sessions:"
)

type redisSessionValue struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLで管理するため、DeleteExpiredは常に0件を返す。
// ExpireNX/ExpireGTを使うためRedis 7以上が必要。
type RedisSessionRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

// Create はセッションをTTL付きで保存し、ユーザーごとのセッション集合に登録する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired")
	}

	data, err := json.Marshal(redisSessionValue{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	userKey := redisUserSessionPrefix + session.UserID
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisSessionPrefix+session.ID, data, ttl)
	pipe.SAdd(ctx, userKey, session.ID)
	// 索引は最も遅く失効するセッションまで保持する。TTL未設定ならNXで設定し、既存より長い場合のみGTで延長する。
	pipe.ExpireNX(ctx, userKey, ttl)
	pipe.ExpireGT(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.Get(ctx, redisSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var v redisSessionValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if !r.now().Before(v.ExpiresAt) {
		return nil, nil
	}

	return &model.Session{
		ID:        id,
		UserID:    v.UserID,
		ExpiresAt: v.ExpiresAt,
		CreatedAt: v.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	userKey := redisUserSessionPrefix + userID
	ids, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, redisSessionPrefix+id)
	}
	keys = append(keys, userKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired はTTLで失効済みのため何もしない。
func (r *RedisSessionRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
