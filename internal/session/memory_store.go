package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session *Session
	expires time.Time
}

// MemoryStore keeps sessions in process with a sliding TTL. Expired
// entries are dropped when read and on every Save.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates a store. A zero TTL keeps sessions forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the session and pushes its expiry out by the TTL.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(entry) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	entry.expires = m.expiry()
	m.entries[id] = entry
	return entry.session.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = memoryEntry{session: s.Clone(), expires: m.expiry()}
	m.sweep()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !m.expired(e) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && m.now().After(e.expires)
}

// sweep drops expired entries. Caller holds the write lock.
func (m *MemoryStore) sweep() {
	for id, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, id)
		}
	}
}
