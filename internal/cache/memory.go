package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store used in tests and single-node development setups.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

func (s *MemoryStore) live(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// IncrementWithTTL increments a counter stored as a decimal string.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.live(key, now)
	count := int64(1)
	if ok {
		count = parseCount(entry.value) + 1
	}

	expiry := now.Add(window)
	s.data[key] = memoryEntry{value: formatCount(count), expiresAt: expiry}
	return count, expiry.Sub(now), nil
}

// Set stores value under key. A non-positive ttl means the entry never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = entry
	return nil
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(key, s.now())
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Delete removes keys from the store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
