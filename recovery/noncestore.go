package recovery

import (
	"context"
	"sync"
	"time"
)

// InMemoryNonceStore is the default NonceStore: a mutex-guarded map of
// first-seen timestamps with a background sweep, directly grounded on the
// teacher's PowStore (api/pow.go) — single-use challenge tokens evicted
// after their TTL by a ticking goroutine.
type InMemoryNonceStore struct {
	mu       sync.Mutex
	firstSeen map[string]time.Time
}

func NewInMemoryNonceStore() *InMemoryNonceStore {
	s := &InMemoryNonceStore{firstSeen: make(map[string]time.Time)}
	go s.sweep()
	return s
}

func (s *InMemoryNonceStore) Consume(ctx context.Context, nonceHex string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if seenAt, ok := s.firstSeen[nonceHex]; ok {
		if now.Sub(seenAt) > ttl {
			// Expired entries are treated the same as replays: the
			// challenge they belonged to is no longer valid regardless.
			return false, nil
		}
		return false, nil
	}
	s.firstSeen[nonceHex] = now
	return true, nil
}

func (s *InMemoryNonceStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		cutoff := time.Now().Add(-TTL)
		for k, v := range s.firstSeen {
			if v.Before(cutoff) {
				delete(s.firstSeen, k)
			}
		}
		s.mu.Unlock()
	}
}
