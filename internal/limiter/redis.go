package limiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talentai/llm-gateway/internal/domain"
)

const slotKey = "llmgateway:inflight"

// slotTTL guards against leaked slots from instances that died while
// holding one; the counter key is re-expired on every acquire.
const slotTTL = 10 * time.Minute

// RedisLimiter shares one concurrency budget across gateway instances.
type RedisLimiter struct {
	client *redis.Client
	max    int
}

func NewRedisLimiter(redisURL string, maxConcurrent int) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{client: client, max: maxConcurrent}, nil
}

func (l *RedisLimiter) Acquire(ctx context.Context) (func(), error) {
	count, err := l.client.Incr(ctx, slotKey).Result()
	if err != nil {
		// Fail open: a broken limiter store must not take down the
		// chat surface.
		slog.Warn("redis limiter unavailable, admitting request", "error", err)
		return func() {}, nil
	}
	l.client.Expire(ctx, slotKey, slotTTL)

	if count > int64(l.max) {
		l.client.Decr(ctx, slotKey)
		return nil, domain.ErrTooManyRequests
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.Decr(releaseCtx, slotKey).Err(); err != nil {
			slog.Warn("failed to release limiter slot", "error", err)
		}
	}, nil
}

func (l *RedisLimiter) InFlight() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := l.client.Get(ctx, slotKey).Int()
	if err != nil {
		return 0
	}
	return count
}
