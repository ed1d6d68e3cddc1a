package notify

import (
	"context"
	"sync"
	"time"
)

// TimeStore remembers when each kind of message was last sent.
type TimeStore interface {
	Sendable(ctx context.Context, key string, period time.Duration, now time.Time) (bool, error)
	Sent(ctx context.Context, key string, now time.Time) error
}

type memoryStore struct {
	mu   sync.Mutex
	sent map[string]time.Time
}

// NewMemoryStore returns a process-local TimeStore.
func NewMemoryStore() TimeStore {
	return &memoryStore{sent: map[string]time.Time{}}
}

func (s *memoryStore) Sendable(_ context.Context, key string, period time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.sent[key]
	return !ok || now.Sub(last) >= period, nil
}

func (s *memoryStore) Sent(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[key] = now
	return nil
}
