package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultTerminalTTL is how long DONE/ERROR states are kept in memory.
const DefaultTerminalTTL = 15 * time.Minute

type memoryEntry struct {
	state   State
	expires time.Time // zero for live states
}

// MemoryStore is an in-process Store. Terminal states expire after the TTL,
// evicted lazily on access and by Sweep.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTerminalTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Set(_ context.Context, key string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.lookup(key, now); ok && cur.state.Status.Terminal() {
		return ErrTerminalState
	}

	e := memoryEntry{state: st}
	if st.Status.Terminal() {
		e.expires = now.Add(s.ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lookup(key, s.now()); ok {
		return e.state, nil
	}
	return Pending(), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored keys, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// lookup must be called with s.mu held.
func (s *MemoryStore) lookup(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}
