package ratelimit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix  = "loanapp:ratelimit:"
	redisTimeout = 250 * time.Millisecond
)

// RedisLimiter shares counters across instances. Redis failures are logged
// and the request is allowed.
type RedisLimiter struct {
	client *redis.Client
	logger logging.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, logger logging.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger.With("module", "ratelimit")}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	redisKey := redisPrefix + key

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		pttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		l.logger.Error(ctx, "redis rate limiter error", "op", "incr", "error", err)
		return Decision{Allowed: true}
	}
	counter := incr.Val()

	// A key without expiry is either new or was left behind by a failed
	// PEXPIRE; both get the window, otherwise the counter never resets.
	ttl := pttl.Val()
	if ttl <= 0 {
		if err := l.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			l.logger.Error(ctx, "redis rate limiter error", "op", "pexpire", "error", err)
		}
		ttl = window
	}

	return Decision{
		Allowed: int(counter) <= limit,
		Count:   int(counter),
		ResetAt: time.Now().Add(ttl),
	}
}

// Close is a no-op; the client is owned by the caller.
func (l *RedisLimiter) Close() error { return nil }
