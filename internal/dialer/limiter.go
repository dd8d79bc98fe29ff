package dialer

import (
	"context"
	"time"

	"campaign-engine/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent outbound calls per workspace.
type Limiter interface {
	Acquire(ctx context.Context, workspaceID string) (bool, error)
	Release(ctx context.Context, workspaceID string) error
}

// RedisLimiter shares the cap across every dialer process.
// The TTL bounds slots leaked by a crash between dial and terminal webhook.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	ttl    time.Duration
}

func NewRedisLimiter(rdb redis.Scripter, limit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, prefix: "dialer:cap:", limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.prefix+workspaceID, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, workspaceID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.prefix+workspaceID)
}
