// Package quota counts per-key usage against a daily limit. Windows reset at
// UTC midnight.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Usage is the state of one key after a Consume.
type Usage struct {
	Limit      int
	Used       int
	ResetAfter time.Time
	Allowed    bool
}

type Limiter interface {
	// Consume records one use of key. Once the limit is reached further
	// calls report Allowed=false without counting.
	Consume(ctx context.Context, key string, limit int, now time.Time) (Usage, error)
}

// NextReset is the start of the next UTC day after now.
func NextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func windowKey(key string, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s", key, now.UTC().Format("2006-01-02"))
}

type MemoryLimiter struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{cache: cache.New(24*time.Hour, time.Hour)}
}

func (l *MemoryLimiter) Consume(_ context.Context, key string, limit int, now time.Time) (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reset := NextReset(now)
	k := windowKey(key, now)

	used := 0
	if x, found := l.cache.Get(k); found {
		used = x.(int)
	}
	if used >= limit {
		return Usage{Limit: limit, Used: used, ResetAfter: reset, Allowed: false}, nil
	}

	used++
	l.cache.Set(k, used, reset.Sub(now))
	return Usage{Limit: limit, Used: used, ResetAfter: reset, Allowed: true}, nil
}

// RedisLimiter shares counters across server instances.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Consume(ctx context.Context, key string, limit int, now time.Time) (Usage, error) {
	reset := NextReset(now)
	k := windowKey(key, now)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireAt(ctx, k, reset)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, fmt.Errorf("quota incr: %w", err)
	}

	used := int(incr.Val())
	if used > limit {
		// Undo so the stored count stays at the limit.
		if err := l.rdb.Decr(ctx, k).Err(); err != nil {
			return Usage{}, fmt.Errorf("quota decr: %w", err)
		}
		return Usage{Limit: limit, Used: limit, ResetAfter: reset, Allowed: false}, nil
	}
	return Usage{Limit: limit, Used: used, ResetAfter: reset, Allowed: true}, nil
}
