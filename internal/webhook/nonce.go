package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hotdash/integration-gateway/internal/storage"
)

// NonceStore tracks previously-seen nonces per source. CheckAndRecord
// returns false when the nonce was already seen (a replay).
type NonceStore interface {
	CheckAndRecord(ctx context.Context, source, nonce string) (bool, error)
}

// MemoryNonceStore keeps seen nonces in a bounded set. When the set grows
// past the cap it is cleared wholesale: coarse, but it caps memory and a
// replayed request then also fails the timestamp tolerance check.
type MemoryNonceStore struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	maxEntries int
}

func NewMemoryNonceStore(maxEntries int) *MemoryNonceStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryNonceStore{
		seen:       make(map[string]struct{}),
		maxEntries: maxEntries,
	}
}

func (s *MemoryNonceStore) CheckAndRecord(_ context.Context, source, nonce string) (bool, error) {
	key := source + ":" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return false, nil
	}

	if len(s.seen) >= s.maxEntries {
		s.seen = make(map[string]struct{})
	}

	s.seen[key] = struct{}{}
	return true, nil
}

func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RedisNonceStore shares the seen-nonce set across gateway instances.
// SET NX with a TTL gives atomic check-and-record with built-in expiry.
type RedisNonceStore struct {
	redis *storage.RedisClient
	ttl   time.Duration
}

func NewRedisNonceStore(redis *storage.RedisClient, ttl time.Duration) *RedisNonceStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisNonceStore{redis: redis, ttl: ttl}
}

func (s *RedisNonceStore) CheckAndRecord(ctx context.Context, source, nonce string) (bool, error) {
	key := fmt.Sprintf("webhook:nonce:%s:%s", source, nonce)
	return s.redis.SetNX(ctx, key, 1, s.ttl)
}
