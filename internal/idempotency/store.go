package idempotency

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hotdash/integration-gateway/internal/models"
)

// Store holds idempotency records. Get returns nil for an absent key;
// PutIfAbsent reports whether this caller's write won.
type Store interface {
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	PutIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error)
}

// MemoryStore is the bounded in-process fallback used when the shared
// database is unavailable. Entries expire after the TTL; once the map
// grows past the cap the oldest entries are evicted.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*models.IdempotencyRecord
	maxEntries int
	ttl        time.Duration
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		records:    make(map[string]*models.IdempotencyRecord),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if record.Expired(s.ttl) {
		delete(s.records, key)
		return nil, nil
	}

	return record, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, record *models.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.Key]; ok && !existing.Expired(s.ttl) {
		return false, nil
	}

	s.sweep()
	s.records[record.Key] = record
	return true, nil
}

// Drops expired entries, then the oldest ones while over the cap.
// Caller must hold the mutex.
func (s *MemoryStore) sweep() {
	for key, record := range s.records {
		if record.Expired(s.ttl) {
			delete(s.records, key)
		}
	}

	if len(s.records) < s.maxEntries {
		return
	}

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.records[keys[i]].CreatedAt.Before(s.records[keys[j]].CreatedAt)
	})

	for _, key := range keys {
		if len(s.records) < s.maxEntries {
			break
		}
		delete(s.records, key)
	}
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// FallbackStore prefers the shared database store so multiple gateway
// instances agree, degrading to the in-process store when it errors
type FallbackStore struct {
	primary  Store
	fallback Store
}

func NewFallbackStore(primary, fallback Store) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback}
}

func (s *FallbackStore) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	record, err := s.primary.Get(ctx, key)
	if err != nil {
		log.Printf("[idempotency] primary store read failed, using fallback: %v", err)
		return s.fallback.Get(ctx, key)
	}
	return record, nil
}

func (s *FallbackStore) PutIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error) {
	inserted, err := s.primary.PutIfAbsent(ctx, record)
	if err != nil {
		log.Printf("[idempotency] primary store write failed, using fallback: %v", err)
		return s.fallback.PutIfAbsent(ctx, record)
	}
	return inserted, nil
}
