package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter ограничивает частоту запросов по ключу
type RateLimiter interface {
	// Allow возвращает false, если лимит для ключа в окне исчерпан
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisRateLimiter реализует скользящее окно на sorted set
type RedisRateLimiter struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter создает новый экземпляр RedisRateLimiter
func NewRedisRateLimiter(client redis.Cmdable, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Allow учитывает запрос и проверяет лимит.
// Отклоненный запрос из окна удаляется, чтобы не продлевать блокировку.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	now := r.now()
	member := uuid.NewString()

	var card *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now.Add(-window).UnixMicro(), 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to execute rate limit transaction: %w", err)
	}

	if card.Val() > int64(limit) {
		if err := r.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return false, fmt.Errorf("failed to drop rejected request: %w", err)
		}
		return false, nil
	}
	return true, nil
}
