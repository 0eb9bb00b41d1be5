package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hotdash/integration-gateway/internal/storage"
)

// SourceLimiter bounds how fast a single caller address may deliver
// webhooks, independent of the outbound API rate limiter
type SourceLimiter interface {
	Allow(ctx context.Context, source, addr string) (bool, error)
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// MemorySourceLimiter is a fixed-window counter per caller address
type MemorySourceLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	limit   int
	window  time.Duration

	now func() time.Time
}

func NewMemorySourceLimiter(limit int, window time.Duration) *MemorySourceLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemorySourceLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *MemorySourceLimiter) Allow(_ context.Context, source, addr string) (bool, error) {
	key := source + ":" + addr
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		// Expired windows for other callers get dropped opportunistically
		for k, win := range l.windows {
			if now.After(win.resetAt) {
				delete(l.windows, k)
			}
		}
		l.windows[key] = &rateWindow{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}

	if w.count >= l.limit {
		return false, nil
	}

	w.count++
	return true, nil
}

// RedisSourceLimiter shares the window counters across instances
type RedisSourceLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewRedisSourceLimiter(redis *storage.RedisClient, limit int, window time.Duration) *RedisSourceLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisSourceLimiter{redis: redis, limit: limit, window: window}
}

func (l *RedisSourceLimiter) Allow(ctx context.Context, source, addr string) (bool, error) {
	key := fmt.Sprintf("webhook:window:%s:%s", source, addr)

	count, err := l.redis.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window); err != nil {
			return false, err
		}
	}

	return count <= int64(l.limit), nil
}
