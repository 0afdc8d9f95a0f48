package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRateCounter 是登录限流与失败计数所需的 redis 子集。
type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// incrWithTTL 递增计数，并在窗口的第一次计数时设置过期时间。
func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
