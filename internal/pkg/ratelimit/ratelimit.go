// internal/pkg/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter: at most Limit hits per key per Window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int64, err error)
}

type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *RedisLimiter) key(key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.prefix, key)
}

// Allow opens the window with SET NX EX and counts with INCR in one MULTI,
// so a counter never exists without its expiry.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	k := r.key(key)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, r.window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to count hit on %s: %w", k, err)
	}
	count := incr.Val()

	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= r.limit, remaining, nil
}

// MemoryLimiter is the single-process equivalent, used when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int64
	period  time.Duration
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewMemoryLimiter(limit int64, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.period)}
		m.windows[key] = w
	}
	w.count++

	remaining := m.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return w.count <= m.limit, remaining, nil
}
