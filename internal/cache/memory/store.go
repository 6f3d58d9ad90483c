package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Store is a process-local cache.Store. Entries past their TTL are treated
// as absent and lazily removed on the next read.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *Store) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(e.data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Put(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[key] = entry{data: data, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}
