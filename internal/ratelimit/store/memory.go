package store

import (
	"context"
	"sync"
	"time"
)

// entry holds a counter value and its expiry.
type entry struct {
	value     int64
	expiresAt time.Time
}

// expired reports whether the entry has passed its expiry.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store with an in-process map. Suitable for a
// single gateway replica; use RedisStore when counters must be shared.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopCh  chan struct{}
	stopped bool
}

// janitorInterval controls how often expired entries are swept.
const janitorInterval = time.Minute

// NewMemoryStore creates a new in-memory store with a background sweeper
// for expired entries.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

// janitor periodically removes expired entries.
func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return 0, &ErrKeyNotFound{Key: key}
	}
	return e.value, nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = &entry{expiresAt: now.Add(expiration)}
		s.entries[key] = e
	}
	e.value += delta
	return e.value, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	return nil
}
