package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is the in-process counter backend. Entries are created
// lazily and reclaimed by a periodic background sweep; expired entries
// never block a fresh window from starting.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryStore creates a store and starts its sweep loop.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep(context.Background())
			}
		}
	}()

	return s
}

// Stop halts the sweep loop. Safe to call multiple times.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

// Increment atomically bumps the counter for key, reviving expired
// entries as fresh windows.
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// Get returns the live count for key, 0 when absent or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

// Sweep drops expired entries.
func (s *MemoryStore) Sweep(ctx context.Context) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
