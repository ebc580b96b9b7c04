package kvstore

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps values in process memory. Entries never expire; the
// pointer cache enforces its own TTL at read time.
type MemoryStore struct {
	mu    sync.RWMutex
	cache *cache.Cache
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if x, found := s.cache.Get(key); found {
		return x.(string), true, nil
	}
	return "", false, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

// Len reports how many keys are stored.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
