package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker checks the connection of the resume-position store.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string {
	return "history_redis"
}

func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	info, err := r.client.Info(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to get redis info: %w", err)
	}
	if len(info) == 0 {
		return fmt.Errorf("empty redis info response")
	}
	return nil
}
