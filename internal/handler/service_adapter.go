package handler

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/companionhub/internal/assignment"
	"github.com/hitoshi/companionhub/internal/auth"
	"github.com/hitoshi/companionhub/internal/catalog"
	"github.com/hitoshi/companionhub/internal/chat"
	"github.com/hitoshi/companionhub/internal/recruitment"
)

// RedisPinger はredis.UniversalClientをPingerに適合させる。
func RedisPinger(client redis.UniversalClient) Pinger {
	return PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ UserServiceInterface = (*auth.Service)(nil)
var _ CatalogServiceInterface = (*catalog.Service)(nil)
var _ AssignmentServiceInterface = (*assignment.Service)(nil)
var _ RecruitmentServiceInterface = (*recruitment.Service)(nil)
var _ ChatServiceInterface = (*chat.Service)(nil)
