package redislimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/PaulFidika/receiptkit/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a Redis-backed sliding window limiter using ZSETs. All replicas
// sharing the Redis instance share the budget.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
	limits map[string]ratelimit.Limit
}

func New(rdb redis.Cmdable, limits map[string]ratelimit.Limit) *Limiter {
	if limits == nil {
		limits = ratelimit.DefaultLimits()
	}
	return &Limiter{rdb: rdb, prefix: "receiptkit:rl:", limits: limits}
}

func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}
	lim := ratelimit.Lookup(l.limits, bucket)
	now := time.Now().UnixMilli()
	start := now - lim.Window.Milliseconds()
	limitKey := l.prefix + key + ":" + bucket
	// Members must be unique or two requests in the same millisecond collapse.
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, limitKey, "0", strconv.FormatInt(start, 10))
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(lim.Limit) {
		l.rdb.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}
