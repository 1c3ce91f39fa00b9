package draft

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Records are kept as JSON so decoding
// behaves the same as in RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a store whose records expire after ttl. A zero ttl keeps them forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, key string, d Draft) error {
	data, err := json.Marshal(d.Trimmed())
	if err != nil {
		return err
	}
	entry := memoryEntry{data: data}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[recordKey(key)] = entry
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (Draft, error) {
	s.mu.Lock()
	entry, ok := s.entries[recordKey(key)]
	if ok && !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, recordKey(key))
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return Draft{}, ErrMissing
	}
	return decode(entry.data)
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, recordKey(key))
	return nil
}
